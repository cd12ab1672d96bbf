// Package lesson loads scripted packet-flow lessons and runs them against a
// hop coordinator.
package lesson

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/netsec-simulator/model"
)

// ErrInvalidLesson is wrapped by every validation failure in Load.
var ErrInvalidLesson = errors.New("invalid lesson")

// TriggerKind selects what starts a step.
type TriggerKind int

const (
	TriggerStart TriggerKind = iota
	TriggerAfterArrival
	TriggerOnSignal
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerStart:
		return "start"
	case TriggerAfterArrival:
		return "after_arrival"
	case TriggerOnSignal:
		return "on_signal"
	default:
		return "unknown"
	}
}

// ActionKind selects what a step does.
type ActionKind int

const (
	ActionHop ActionKind = iota
	ActionFire
	ActionPause
	ActionResume
	ActionSpeed
)

func (k ActionKind) String() string {
	switch k {
	case ActionHop:
		return "hop"
	case ActionFire:
		return "fire"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	case ActionSpeed:
		return "speed"
	default:
		return "unknown"
	}
}

// Step is one scripted action and the trigger that runs it. Target is the
// packet ID for TriggerAfterArrival and the signal name for TriggerOnSignal.
type Step struct {
	ID      string
	Trigger TriggerKind
	Target  string
	Delay   float64

	Action ActionKind
	Hop    model.HopRequest
	Signal string
	Speed  float64
}

// Lesson is a validated lesson script.
type Lesson struct {
	ID    string
	Title string
	// AnchorTimeout stops hops that have not launched this many seconds
	// after being requested. Zero waits forever.
	AnchorTimeout float64
	// ReleaseTimeout is applied to gated hops that do not set their own.
	ReleaseTimeout float64
	Steps          []Step
}

type lessonYAML struct {
	ID             string     `yaml:"id"`
	Title          string     `yaml:"title"`
	AnchorTimeout  float64    `yaml:"anchor_timeout"`
	ReleaseTimeout float64    `yaml:"release_timeout"`
	Steps          []stepYAML `yaml:"steps"`
}

type stepYAML struct {
	ID           string   `yaml:"id"`
	AfterArrival string   `yaml:"after_arrival"`
	OnSignal     string   `yaml:"on_signal"`
	Delay        float64  `yaml:"delay"`
	Hop          *hopYAML `yaml:"hop"`
	Fire         string   `yaml:"fire"`
	Pause        bool     `yaml:"pause"`
	Resume       bool     `yaml:"resume"`
	Speed        *float64 `yaml:"speed"`
}

type hopYAML struct {
	PacketID           string      `yaml:"packet_id"`
	Label              string      `yaml:"label"`
	Protocol           string      `yaml:"protocol"`
	Encrypted          bool        `yaml:"encrypted"`
	From               string      `yaml:"from"`
	To                 string      `yaml:"to"`
	Path               []vecYAML   `yaml:"path"`
	Travel             float64     `yaml:"travel"`
	Easing             string      `yaml:"easing"`
	Hold               float64     `yaml:"hold"`
	HoldUntil          string      `yaml:"hold_until"`
	HoldCompleteSignal string      `yaml:"hold_complete_signal"`
	StartOffset        *offsetYAML `yaml:"start_offset"`
	EndOffset          *offsetYAML `yaml:"end_offset"`
	ReleaseTimeout     float64     `yaml:"release_timeout"`
	ReleasePolicy      string      `yaml:"release_policy"` // arrive | stop
}

type vecYAML struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type offsetYAML struct {
	Toward   string  `yaml:"toward"`
	Distance float64 `yaml:"distance"`
	Lift     float64 `yaml:"lift"`
}

func (o *offsetYAML) offset() *model.Offset {
	if o == nil {
		return nil
	}
	return &model.Offset{Toward: o.Toward, Distance: o.Distance, Lift: o.Lift}
}

// Load reads and validates a YAML lesson. Hops without a packet ID get a
// generated "pkt-<uuid>" ID; after_arrival may name either a packet ID or the
// ID of the step that launches it.
func Load(r io.Reader) (*Lesson, error) {
	var payload lessonYAML
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidLesson)
		}
		return nil, fmt.Errorf("lesson: decode failed: %w", err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidLesson)
	}
	if !nonNegative(payload.AnchorTimeout) || !nonNegative(payload.ReleaseTimeout) {
		return nil, fmt.Errorf("%w: %s: timeouts must be finite and non-negative", ErrInvalidLesson, payload.ID)
	}

	l := &Lesson{
		ID:             payload.ID,
		Title:          payload.Title,
		AnchorTimeout:  payload.AnchorTimeout,
		ReleaseTimeout: payload.ReleaseTimeout,
		Steps:          make([]Step, 0, len(payload.Steps)),
	}
	stepIDs := make(map[string]int)
	packets := make(map[string]bool)
	for i, sy := range payload.Steps {
		step, err := convertStep(i, sy)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLesson, payload.ID, err)
		}
		if _, dup := stepIDs[step.ID]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate step id %q", ErrInvalidLesson, payload.ID, step.ID)
		}
		stepIDs[step.ID] = i
		if step.Action == ActionHop {
			packets[step.Hop.PacketID] = true
		}
		l.Steps = append(l.Steps, step)
	}

	for i := range l.Steps {
		s := &l.Steps[i]
		if s.Trigger != TriggerAfterArrival || packets[s.Target] {
			continue
		}
		if j, ok := stepIDs[s.Target]; ok && l.Steps[j].Action == ActionHop {
			s.Target = l.Steps[j].Hop.PacketID
			continue
		}
		return nil, fmt.Errorf("%w: %s: step %q waits for unknown packet %q", ErrInvalidLesson, l.ID, s.ID, s.Target)
	}
	return l, nil
}

// LoadFile opens path and parses it with Load.
func LoadFile(path string) (*Lesson, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lesson: %w", err)
	}
	defer f.Close()
	l, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

func convertStep(i int, sy stepYAML) (Step, error) {
	s := Step{ID: sy.ID, Delay: sy.Delay}
	if s.ID == "" {
		s.ID = fmt.Sprintf("step-%d", i+1)
	}
	if !nonNegative(sy.Delay) {
		return s, fmt.Errorf("step %q: delay must be finite and non-negative", s.ID)
	}

	switch {
	case sy.AfterArrival != "" && sy.OnSignal != "":
		return s, fmt.Errorf("step %q: after_arrival and on_signal are exclusive", s.ID)
	case sy.AfterArrival != "":
		s.Trigger, s.Target = TriggerAfterArrival, sy.AfterArrival
	case sy.OnSignal != "":
		s.Trigger, s.Target = TriggerOnSignal, sy.OnSignal
	default:
		s.Trigger = TriggerStart
	}

	actions := 0
	if sy.Hop != nil {
		actions++
		hop, err := convertHop(*sy.Hop)
		if err != nil {
			return s, fmt.Errorf("step %q: %v", s.ID, err)
		}
		s.Action, s.Hop = ActionHop, hop
	}
	if sy.Fire != "" {
		actions++
		s.Action, s.Signal = ActionFire, sy.Fire
	}
	if sy.Pause {
		actions++
		s.Action = ActionPause
	}
	if sy.Resume {
		actions++
		s.Action = ActionResume
	}
	if sy.Speed != nil {
		actions++
		if !nonNegative(*sy.Speed) || *sy.Speed == 0 {
			return s, fmt.Errorf("step %q: speed must be positive", s.ID)
		}
		s.Action, s.Speed = ActionSpeed, *sy.Speed
	}
	if actions != 1 {
		return s, fmt.Errorf("step %q: want exactly one action, got %d", s.ID, actions)
	}
	return s, nil
}

func convertHop(h hopYAML) (model.HopRequest, error) {
	req := model.HopRequest{
		PacketID:           h.PacketID,
		Label:              h.Label,
		Protocol:           h.Protocol,
		Encrypted:          h.Encrypted,
		From:               h.From,
		To:                 h.To,
		TravelSeconds:      h.Travel,
		Easing:             model.ParseEasing(h.Easing),
		HoldSeconds:        h.Hold,
		HoldUntil:          h.HoldUntil,
		HoldCompleteSignal: h.HoldCompleteSignal,
		StartOffset:        h.StartOffset.offset(),
		EndOffset:          h.EndOffset.offset(),
		ReleaseTimeout:     h.ReleaseTimeout,
	}
	if req.PacketID == "" {
		req.PacketID = "pkt-" + uuid.NewString()
	}
	for _, p := range h.Path {
		req.Path = append(req.Path, model.Vec3{X: p.X, Y: p.Y, Z: p.Z})
	}
	switch strings.ToLower(h.ReleasePolicy) {
	case "", "arrive":
		req.ReleasePolicy = model.ReleaseForceArrival
	case "stop":
		req.ReleasePolicy = model.ReleaseForceStop
	default:
		return req, fmt.Errorf("unknown release_policy %q", h.ReleasePolicy)
	}
	if len(req.Path) < 2 && (req.From == "" || req.To == "") {
		return req, fmt.Errorf("hop %q needs from and to, or a path", req.PacketID)
	}
	if req.HoldUntil != "" && req.HoldCompleteSignal == req.HoldUntil {
		return req, fmt.Errorf("hop %q would release itself on %q", req.PacketID, req.HoldUntil)
	}
	return req, nil
}

func nonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
