// Package kb holds the scene knowledge base: named anchors the hop engine
// resolves, plus the token and tagged visuals the presentation layer draws.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/model"
)

var (
	// ErrAnchorExists is returned when adding an anchor whose name is taken.
	ErrAnchorExists = errors.New("anchor already exists")
	// ErrAnchorNotFound is returned when an anchor name is unknown.
	ErrAnchorNotFound = errors.New("anchor not found")
	// ErrAnchorInvalid indicates an empty name or a non-finite position.
	ErrAnchorInvalid = errors.New("invalid anchor")
	// ErrVisualExists is returned when adding a visual whose ID is taken.
	ErrVisualExists = errors.New("visual already exists")
)

// TokenVisualPrefix prefixes the visual ID of every packet token.
const TokenVisualPrefix = "token-"

// EventType indicates what kind of change happened in the scene.
type EventType int

const (
	EventAnchorMounted EventType = iota
	EventAnchorMoved
	EventAnchorUnmounted
)

func (t EventType) String() string {
	switch t {
	case EventAnchorMounted:
		return "mounted"
	case EventAnchorMoved:
		return "moved"
	case EventAnchorUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when an anchor changes.
type Event struct {
	Type   EventType
	Anchor model.Anchor
}

// Visual is a drawable scene object. Visuals with a PacketID are tagged as
// packet tokens and are subject to the stray sweep.
type Visual struct {
	ID       string
	PacketID string
	Position model.Vec3
	Visible  bool
}

// Scene is an in-memory, thread-safe store of anchors and visuals. It
// satisfies core.AnchorLookup, core.TokenSink, core.VisualScene and
// core.PositionUpdater.
type Scene struct {
	mu sync.RWMutex

	anchors map[string]*model.Anchor
	visuals map[string]*Visual

	nextSub uint64
	subs    map[uint64]func(Event)
}

var (
	_ core.AnchorLookup    = (*Scene)(nil)
	_ core.TokenSink       = (*Scene)(nil)
	_ core.VisualScene     = (*Scene)(nil)
	_ core.PositionUpdater = (*Scene)(nil)
)

// NewScene constructs an empty scene.
func NewScene() *Scene {
	return &Scene{
		anchors: make(map[string]*model.Anchor),
		visuals: make(map[string]*Visual),
		subs:    make(map[uint64]func(Event)),
	}
}

// AddAnchor mounts a new anchor.
func (s *Scene) AddAnchor(a model.Anchor) error {
	if a.Name == "" || !a.Position.IsFinite() {
		return fmt.Errorf("%w: %q at %+v", ErrAnchorInvalid, a.Name, a.Position)
	}
	s.mu.Lock()
	if _, exists := s.anchors[a.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAnchorExists, a.Name)
	}
	stored := a
	s.anchors[a.Name] = &stored
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventAnchorMounted, Anchor: a})
	return nil
}

// GetAnchor returns a copy of the named anchor.
func (s *Scene) GetAnchor(name string) (model.Anchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anchors[name]
	if !ok {
		return model.Anchor{}, false
	}
	return *a, true
}

// Lookup returns the current world position of the named anchor.
func (s *Scene) Lookup(name string) (model.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anchors[name]
	if !ok {
		return model.Vec3{}, false
	}
	return a.Position, true
}

// SetAnchorPosition moves an anchor and notifies subscribers when the
// position actually changed.
func (s *Scene) SetAnchorPosition(name string, pos model.Vec3) error {
	if !pos.IsFinite() {
		return fmt.Errorf("%w: %q at %+v", ErrAnchorInvalid, name, pos)
	}
	s.mu.Lock()
	a, ok := s.anchors[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAnchorNotFound, name)
	}
	if a.Position == pos {
		s.mu.Unlock()
		return nil
	}
	a.Position = pos
	event := Event{Type: EventAnchorMoved, Anchor: *a}
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, event)
	return nil
}

// RemoveAnchor unmounts the named anchor.
func (s *Scene) RemoveAnchor(name string) error {
	s.mu.Lock()
	a, ok := s.anchors[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAnchorNotFound, name)
	}
	delete(s.anchors, name)
	event := Event{Type: EventAnchorUnmounted, Anchor: *a}
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, event)
	return nil
}

// ListAnchors returns a snapshot of all anchors sorted by name.
func (s *Scene) ListAnchors() []model.Anchor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.Anchor, 0, len(s.anchors))
	for _, a := range s.anchors {
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Subscribe registers a callback for anchor events. Callbacks run outside the
// scene lock on the goroutine that made the change.
func (s *Scene) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// PlaceToken moves the packet's token visual to pos, creating it on first
// use. There is never more than one token per packet ID.
func (s *Scene) PlaceToken(packetID string, pos model.Vec3) {
	if packetID == "" {
		return
	}
	id := TokenVisualPrefix + packetID
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visuals[id]; ok {
		v.Position = pos
		v.Visible = true
		return
	}
	s.visuals[id] = &Visual{ID: id, PacketID: packetID, Position: pos, Visible: true}
}

// RemoveToken deletes the packet's token visual.
func (s *Scene) RemoveToken(packetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.visuals, TokenVisualPrefix+packetID)
}

// Token returns the packet's token visual.
func (s *Scene) Token(packetID string) (Visual, bool) {
	return s.Visual(TokenVisualPrefix + packetID)
}

// AddVisual adds an arbitrary visual, for example a packet marker left behind
// by an earlier lesson.
func (s *Scene) AddVisual(v Visual) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty visual ID", ErrAnchorInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visuals[v.ID]; exists {
		return fmt.Errorf("%w: %q", ErrVisualExists, v.ID)
	}
	stored := v
	s.visuals[v.ID] = &stored
	return nil
}

// Visual returns a copy of the visual with the given ID.
func (s *Scene) Visual(id string) (Visual, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visuals[id]
	if !ok {
		return Visual{}, false
	}
	return *v, true
}

// TaggedPacketVisuals lists every visual tagged with a packet ID.
func (s *Scene) TaggedPacketVisuals() []core.VisualRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.VisualRef, 0, len(s.visuals))
	for _, v := range s.visuals {
		if v.PacketID == "" {
			continue
		}
		out = append(out, core.VisualRef{ID: v.ID, PacketID: v.PacketID, Visible: v.Visible})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HideVisual hides a visible visual and reports whether it changed.
func (s *Scene) HideVisual(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visuals[id]
	if !ok || !v.Visible {
		return false
	}
	v.Visible = false
	return true
}

func (s *Scene) snapshotSubsLocked() []func(Event) {
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

func notify(subs []func(Event), e Event) {
	for _, fn := range subs {
		fn(e)
	}
}
