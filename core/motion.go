package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/netsec-simulator/model"
)

var (
	// ErrMotionExists is returned when an anchor already has a motion model.
	ErrMotionExists = errors.New("anchor motion already registered")
	// ErrMotionNotFound is returned when removing an anchor with no motion.
	ErrMotionNotFound = errors.New("anchor motion not found")
	// ErrInvalidMotion indicates a motion spec that cannot be evaluated.
	ErrInvalidMotion = errors.New("invalid motion spec")
)

// Trajectory yields an anchor position for a simulation time in seconds.
type Trajectory interface {
	PositionAt(simTime float64) model.Vec3
}

// StaticTrajectory keeps an anchor where it is.
type StaticTrajectory struct {
	At model.Vec3
}

// PositionAt returns the fixed position.
func (s StaticTrajectory) PositionAt(float64) model.Vec3 { return s.At }

// OrbitTrajectory circles Center in the horizontal XZ plane. It is used for
// roaming devices such as a laptop walking around an access point.
type OrbitTrajectory struct {
	Center        model.Vec3
	Radius        float64
	PeriodSeconds float64
	PhaseSeconds  float64
}

func (o OrbitTrajectory) PositionAt(simTime float64) model.Vec3 {
	theta := 2 * math.Pi * (simTime + o.PhaseSeconds) / o.PeriodSeconds
	return model.Vec3{
		X: o.Center.X + o.Radius*math.Cos(theta),
		Y: o.Center.Y,
		Z: o.Center.Z + o.Radius*math.Sin(theta),
	}
}

// PatrolTrajectory moves back and forth between From and To, taking
// PeriodSeconds for a full round trip.
type PatrolTrajectory struct {
	From          model.Vec3
	To            model.Vec3
	PeriodSeconds float64
	PhaseSeconds  float64
}

func (p PatrolTrajectory) PositionAt(simTime float64) model.Vec3 {
	u := math.Mod((simTime+p.PhaseSeconds)/p.PeriodSeconds, 1)
	if u < 0 {
		u++
	}
	s := 2 * u
	if u > 0.5 {
		s = 2 - 2*u
	}
	return p.From.Lerp(p.To, s)
}

// NewTrajectory builds the trajectory for spec. base is the anchor's current
// position and is used by static motion.
func NewTrajectory(spec model.MotionSpec, base model.Vec3) (Trajectory, error) {
	switch spec.Kind {
	case model.MotionStatic:
		return StaticTrajectory{At: base}, nil
	case model.MotionOrbit:
		if !finite(spec.PeriodSeconds) || spec.PeriodSeconds <= 0 || !finite(spec.Radius) || spec.Radius < 0 {
			return nil, fmt.Errorf("%w: orbit needs positive period and non-negative radius", ErrInvalidMotion)
		}
		return OrbitTrajectory{
			Center:        spec.Center,
			Radius:        spec.Radius,
			PeriodSeconds: spec.PeriodSeconds,
			PhaseSeconds:  spec.PhaseSeconds,
		}, nil
	case model.MotionPatrol:
		if !finite(spec.PeriodSeconds) || spec.PeriodSeconds <= 0 {
			return nil, fmt.Errorf("%w: patrol needs positive period", ErrInvalidMotion)
		}
		return PatrolTrajectory{
			From:          spec.From,
			To:            spec.To,
			PeriodSeconds: spec.PeriodSeconds,
			PhaseSeconds:  spec.PhaseSeconds,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidMotion, spec.Kind)
	}
}

// PositionUpdater receives anchor positions computed by a MotionModel.
type PositionUpdater interface {
	SetAnchorPosition(name string, pos model.Vec3) error
}

// MotionModel owns the trajectories of moving anchors and pushes their
// positions into a scene on every tick.
type MotionModel struct {
	mu           sync.Mutex
	trajectories map[string]Trajectory
	updater      PositionUpdater
}

// MotionOption customises MotionModel construction.
type MotionOption func(*MotionModel)

// WithPositionUpdater sets where computed positions are written.
func WithPositionUpdater(u PositionUpdater) MotionOption {
	return func(m *MotionModel) { m.updater = u }
}

// NewMotionModel returns an empty motion model.
func NewMotionModel(opts ...MotionOption) *MotionModel {
	m := &MotionModel{trajectories: make(map[string]Trajectory)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddAnchor attaches a trajectory built from spec to the named anchor.
func (m *MotionModel) AddAnchor(name string, spec model.MotionSpec, base model.Vec3) error {
	if name == "" {
		return fmt.Errorf("%w: empty anchor name", ErrInvalidMotion)
	}
	tr, err := NewTrajectory(spec, base)
	if err != nil {
		return fmt.Errorf("anchor %q: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trajectories[name]; ok {
		return fmt.Errorf("%w: %q", ErrMotionExists, name)
	}
	m.trajectories[name] = tr
	return nil
}

// RemoveAnchor detaches the named anchor's trajectory.
func (m *MotionModel) RemoveAnchor(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trajectories[name]; !ok {
		return fmt.Errorf("%w: %q", ErrMotionNotFound, name)
	}
	delete(m.trajectories, name)
	return nil
}

// Len returns the number of anchors under motion.
func (m *MotionModel) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trajectories)
}

// UpdatePositions evaluates every trajectory at simTime and writes the
// results in anchor name order. All anchors are attempted; the errors are
// joined.
func (m *MotionModel) UpdatePositions(simTime float64) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.trajectories))
	for name := range m.trajectories {
		names = append(names, name)
	}
	sort.Strings(names)
	positions := make([]model.Vec3, len(names))
	for i, name := range names {
		positions[i] = m.trajectories[name].PositionAt(simTime)
	}
	updater := m.updater
	m.mu.Unlock()

	if updater == nil {
		return nil
	}
	var errs []error
	for i, name := range names {
		if err := updater.SetAnchorPosition(name, positions[i]); err != nil {
			errs = append(errs, fmt.Errorf("anchor %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
