package core

import (
	"fmt"
	"math"
	"testing"

	"github.com/signalsfoundry/netsec-simulator/model"
)

// mapLookup is an in-memory anchor table.
type mapLookup map[string]model.Vec3

func (m mapLookup) Lookup(name string) (model.Vec3, bool) {
	p, ok := m[name]
	return p, ok
}

// tokenScene records token placement and doubles as a VisualScene.
type tokenScene struct {
	tokens  map[string]model.Vec3
	placed  map[string]int
	visuals map[string]*VisualRef
}

func newTokenScene() *tokenScene {
	return &tokenScene{
		tokens:  make(map[string]model.Vec3),
		placed:  make(map[string]int),
		visuals: make(map[string]*VisualRef),
	}
}

func (s *tokenScene) PlaceToken(packetID string, pos model.Vec3) {
	s.tokens[packetID] = pos
	s.placed[packetID]++
}

func (s *tokenScene) RemoveToken(packetID string) {
	delete(s.tokens, packetID)
}

func (s *tokenScene) TaggedPacketVisuals() []VisualRef {
	out := make([]VisualRef, 0, len(s.visuals))
	for _, v := range s.visuals {
		out = append(out, *v)
	}
	return out
}

func (s *tokenScene) HideVisual(id string) bool {
	v, ok := s.visuals[id]
	if !ok || !v.Visible {
		return false
	}
	v.Visible = false
	return true
}

// eventLog flattens bus traffic into "kind:packet" strings.
type eventLog struct {
	entries  []string
	arrivals []ArrivalEvent
	stops    []StoppedEvent
	stalls   []StalledEvent
}

func recordEvents(bus *Bus) *eventLog {
	l := &eventLog{}
	bus.Launch.Subscribe(func(e LaunchEvent) { l.add("launch", e.PacketID) })
	bus.Pause.Subscribe(func(e PauseEvent) { l.add("pause", e.PacketID) })
	bus.Resume.Subscribe(func(e ResumeEvent) { l.add("resume", e.PacketID) })
	bus.HoldStart.Subscribe(func(e HoldStartEvent) { l.add("holdStart", e.PacketID) })
	bus.HoldComplete.Subscribe(func(e HoldCompleteEvent) { l.add("holdComplete", e.PacketID) })
	bus.Arrival.Subscribe(func(e ArrivalEvent) {
		l.add("arrival", e.PacketID)
		l.arrivals = append(l.arrivals, e)
	})
	bus.Stopped.Subscribe(func(e StoppedEvent) {
		l.add("stopped", e.PacketID)
		l.stops = append(l.stops, e)
	})
	bus.Stalled.Subscribe(func(e StalledEvent) {
		l.add("stalled", e.PacketID)
		l.stalls = append(l.stalls, e)
	})
	return l
}

func (l *eventLog) add(kind, id string) {
	l.entries = append(l.entries, fmt.Sprintf("%s:%s", kind, id))
}

func (l *eventLog) count(entry string) int {
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, anchors mapLookup, opts ...CoordinatorOption) (*Coordinator, *eventLog) {
	t.Helper()
	c := NewCoordinator(anchors, DefaultEngineConfig(), opts...)
	return c, recordEvents(c.Bus())
}

func mustLaunch(t *testing.T, c *Coordinator, req model.HopRequest) *Hop {
	t.Helper()
	h, err := c.Launch(req)
	if err != nil {
		t.Fatalf("Launch(%q) error = %v", req.PacketID, err)
	}
	return h
}

func advanceN(c *Coordinator, n int, delta float64) {
	for range n {
		c.Advance(delta)
	}
}

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func vecApprox(a, b model.Vec3, eps float64) bool {
	return approxEqual(a.X, b.X, eps) && approxEqual(a.Y, b.Y, eps) && approxEqual(a.Z, b.Z, eps)
}

func twoAnchors() mapLookup {
	return mapLookup{
		"desktop": {X: 0, Y: 0, Z: 0},
		"server":  {X: 4, Y: 0, Z: 0},
	}
}

func nan() float64 { return math.NaN() }
func inf() float64 { return math.Inf(1) }
