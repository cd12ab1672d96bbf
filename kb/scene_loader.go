package kb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/model"
)

// SceneSpec is the parsed content of a scene file.
type SceneSpec struct {
	Anchors []AnchorSpec
}

// AnchorSpec describes one anchor and its optional motion.
type AnchorSpec struct {
	model.Anchor
	Motion *model.MotionSpec
}

// SceneSummary reports what ApplyScene changed.
type SceneSummary struct {
	Mounted []string
	Moved   []string
}

// internal YAML shapes, unexported so the file format can evolve.
type sceneYAML struct {
	Anchors []anchorYAML `yaml:"anchors"`
}

type anchorYAML struct {
	Name     string      `yaml:"name"`
	Device   string      `yaml:"device"`
	Position vecYAML     `yaml:"position"`
	Motion   *motionYAML `yaml:"motion"`
}

type vecYAML struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func (v vecYAML) vec() model.Vec3 { return model.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

type motionYAML struct {
	Kind   string  `yaml:"kind"` // static | orbit | patrol
	Center vecYAML `yaml:"center"`
	Radius float64 `yaml:"radius"`
	From   vecYAML `yaml:"from"`
	To     vecYAML `yaml:"to"`
	Period float64 `yaml:"period"`
	Phase  float64 `yaml:"phase"`
}

func parseMotionKind(s string) (model.MotionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "static":
		return model.MotionStatic, nil
	case "orbit":
		return model.MotionOrbit, nil
	case "patrol":
		return model.MotionPatrol, nil
	default:
		return 0, fmt.Errorf("unknown motion kind %q", s)
	}
}

// LoadScene reads a YAML scene from r. Unknown keys are rejected; duplicate
// anchor names and unknown motion kinds fail the whole file.
func LoadScene(r io.Reader) (*SceneSpec, error) {
	var payload sceneYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("LoadScene: decode failed: %w", err)
	}

	spec := &SceneSpec{Anchors: make([]AnchorSpec, 0, len(payload.Anchors))}
	seen := make(map[string]bool, len(payload.Anchors))
	for i, a := range payload.Anchors {
		if a.Name == "" {
			return nil, fmt.Errorf("LoadScene: anchor %d: %w: missing name", i, ErrAnchorInvalid)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("LoadScene: %w: %q", ErrAnchorExists, a.Name)
		}
		seen[a.Name] = true

		as := AnchorSpec{Anchor: model.Anchor{Name: a.Name, Device: a.Device, Position: a.Position.vec()}}
		if a.Motion != nil {
			kind, err := parseMotionKind(a.Motion.Kind)
			if err != nil {
				return nil, fmt.Errorf("LoadScene: anchor %q: %w", a.Name, err)
			}
			as.Motion = &model.MotionSpec{
				Kind:          kind,
				Center:        a.Motion.Center.vec(),
				Radius:        a.Motion.Radius,
				From:          a.Motion.From.vec(),
				To:            a.Motion.To.vec(),
				PeriodSeconds: a.Motion.Period,
				PhaseSeconds:  a.Motion.Phase,
			}
		}
		spec.Anchors = append(spec.Anchors, as)
	}
	return spec, nil
}

// LoadSceneFile opens path and parses it with LoadScene.
func LoadSceneFile(path string) (*SceneSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadSceneFile: %w", err)
	}
	defer f.Close()
	spec, err := LoadScene(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spec, nil
}

// ApplyScene mounts anchors that are new to s and moves the ones that exist.
// Anchors missing from spec are left alone. Every anchor is attempted; the
// errors are joined.
func ApplyScene(s *Scene, spec *SceneSpec) (SceneSummary, error) {
	var summary SceneSummary
	if s == nil || spec == nil {
		return summary, fmt.Errorf("ApplyScene: scene or spec is nil")
	}
	var errs []error
	for _, a := range spec.Anchors {
		cur, ok := s.GetAnchor(a.Name)
		switch {
		case !ok:
			if err := s.AddAnchor(a.Anchor); err != nil {
				errs = append(errs, err)
				continue
			}
			summary.Mounted = append(summary.Mounted, a.Name)
		case cur.Position != a.Position:
			if err := s.SetAnchorPosition(a.Name, a.Position); err != nil {
				errs = append(errs, err)
				continue
			}
			summary.Moved = append(summary.Moved, a.Name)
		}
	}
	return summary, errors.Join(errs...)
}

// BindMotion attaches every anchor motion in spec to m.
func BindMotion(m *core.MotionModel, spec *SceneSpec) error {
	if m == nil || spec == nil {
		return nil
	}
	var errs []error
	for _, a := range spec.Anchors {
		if a.Motion == nil {
			continue
		}
		if err := m.AddAnchor(a.Name, *a.Motion, a.Position); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
