package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/netsec-simulator/model"
)

func TestLaunchRefusesDuplicatePacketID(t *testing.T) {
	scene := newTokenScene()
	c, events := newTestCoordinator(t, twoAnchors(), WithTokenSink(scene))
	first := mustLaunch(t, c, model.HopRequest{PacketID: "pkt-1", From: "desktop", To: "server"})

	if _, err := c.Launch(model.HopRequest{PacketID: "pkt-1", From: "server", To: "desktop"}); !errors.Is(err, ErrHopActive) {
		t.Fatalf("second Launch error = %v, want ErrHopActive", err)
	}
	advanceN(c, 5, 0.1)
	if got := events.count("launch:pkt-1"); got != 1 {
		t.Fatalf("launch events = %d, want 1", got)
	}
	if len(scene.tokens) != 1 {
		t.Fatalf("tokens = %d, want exactly 1 for pkt-1", len(scene.tokens))
	}
	if got, _ := c.Hop("pkt-1"); got != first {
		t.Fatalf("Hop(pkt-1) is not the first hop")
	}
	if got := c.Registry().Len(); got != 1 {
		t.Fatalf("registry len = %d, want 1", got)
	}
}

func TestRelaunchFromArrivalHandler(t *testing.T) {
	c, events := newTestCoordinator(t, twoAnchors())
	relaunched := false
	c.Bus().Arrival.Subscribe(func(e ArrivalEvent) {
		if relaunched {
			return
		}
		relaunched = true
		if _, err := c.Launch(model.HopRequest{PacketID: e.PacketID, From: "server", To: "desktop", TravelSeconds: 1}); err != nil {
			t.Errorf("relaunch from arrival handler: %v", err)
		}
	})
	mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", TravelSeconds: 1})

	c.Advance(1.5)
	if !c.Registry().Has("p") {
		t.Fatalf("relaunched hop not registered")
	}
	h, ok := c.Hop("p")
	if !ok || h.Launched() {
		t.Fatalf("relaunched hop should start on the next frame, got ok=%v launched=%v", ok, ok && h.Launched())
	}
	c.Advance(1.5)
	if h.Phase() != Arrived {
		t.Fatalf("relaunched hop phase = %s, want arrived", h.Phase())
	}
	if got := events.count("arrival:p"); got != 2 {
		t.Fatalf("arrival events = %d, want 2", got)
	}
	if c.Registry().Has("p") {
		t.Fatalf("registry still holds p")
	}
}

func TestPauseFreezesAndResumeContinues(t *testing.T) {
	c, events := newTestCoordinator(t, twoAnchors())
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", TravelSeconds: 1})
	c.Advance(0.5)
	progress := h.Progress()
	pos, _ := h.Position()

	c.Pause()
	advanceN(c, 50, 0.1)
	if h.Progress() != progress {
		t.Fatalf("progress moved while paused: %v -> %v", progress, h.Progress())
	}
	if again, _ := h.Position(); again != pos {
		t.Fatalf("position moved while paused")
	}
	if !c.Paused() || c.Clock() != 0.5 {
		t.Fatalf("paused=%v clock=%v, want true 0.5", c.Paused(), c.Clock())
	}

	c.Resume()
	c.Advance(0.7)
	if h.Phase() != Traveling {
		t.Fatalf("phase = %s, want traveling (0.5 + 0.7 < 1.3)", h.Phase())
	}
	c.Advance(0.2)
	if h.Phase() != Arrived {
		t.Fatalf("phase = %s, want arrived", h.Phase())
	}
	if events.count("pause:p") != 1 || events.count("resume:p") != 1 {
		t.Fatalf("events = %v, want one pause and one resume", events.entries)
	}
}

func TestPauseFreezesHoldTimer(t *testing.T) {
	c, _ := newTestCoordinator(t, twoAnchors())
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", TravelSeconds: 1, HoldSeconds: 1})
	c.Advance(1.8)
	c.Pause()
	c.Advance(10)
	c.Resume()
	c.Advance(0.4)
	if h.Phase() != Holding {
		t.Fatalf("phase = %s, want holding (0.9s of 1s hold elapsed)", h.Phase())
	}
	c.Advance(0.2)
	if h.Phase() != Arrived {
		t.Fatalf("phase = %s, want arrived", h.Phase())
	}
}

func TestPauseEventsOnlyForLaunchedHops(t *testing.T) {
	c, events := newTestCoordinator(t, twoAnchors())
	mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server"})
	c.Pause()
	c.Resume()
	if len(events.entries) != 0 {
		t.Fatalf("events = %v, want none for an unlaunched hop", events.entries)
	}

	c.Pause()
	c.Pause()
	late := mustLaunch(t, c, model.HopRequest{PacketID: "late", From: "desktop", To: "server"})
	c.Advance(1)
	if late.Launched() {
		t.Fatalf("hop launched while paused")
	}
	if c.TogglePause() {
		t.Fatalf("TogglePause() = true, want resumed")
	}
	c.Advance(0)
	if !late.Launched() {
		t.Fatalf("hop did not launch after resume")
	}
}

func TestSetSpeedClampsAndScales(t *testing.T) {
	c, _ := newTestCoordinator(t, twoAnchors())
	cases := []struct {
		in, want float64
	}{
		{0, 0.1},
		{-3, 0.1},
		{10, 4},
		{2, 2},
		{nan(), 1},
	}
	for _, tc := range cases {
		if got := c.SetSpeed(tc.in); got != tc.want {
			t.Fatalf("SetSpeed(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}

	c.SetSpeed(2)
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", TravelSeconds: 1})
	c.Advance(0.6)
	if h.Phase() != Traveling {
		t.Fatalf("phase = %s, want traveling at 1.2 scaled seconds", h.Phase())
	}
	c.Advance(0.1)
	if h.Phase() != Arrived {
		t.Fatalf("phase = %s, want arrived at 1.4 scaled seconds", h.Phase())
	}
}

func TestSpeedScalesHoldTimer(t *testing.T) {
	c, _ := newTestCoordinator(t, twoAnchors())
	c.SetSpeed(0.5)
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", TravelSeconds: 1, HoldSeconds: 1})
	c.Advance(2.6)
	if h.Phase() != Holding {
		t.Fatalf("phase = %s, want holding", h.Phase())
	}
	c.Advance(1.9)
	if h.Phase() != Holding {
		t.Fatalf("phase = %s, want holding at 0.95 scaled hold seconds", h.Phase())
	}
	c.Advance(0.2)
	if h.Phase() != Arrived {
		t.Fatalf("phase = %s, want arrived", h.Phase())
	}
}

func TestForceStopAllClearsEverything(t *testing.T) {
	scene := newTokenScene()
	c, events := newTestCoordinator(t, twoAnchors(), WithTokenSink(scene))
	a := mustLaunch(t, c, model.HopRequest{PacketID: "a", From: "desktop", To: "server"})
	b := mustLaunch(t, c, model.HopRequest{PacketID: "b", From: "server", To: "desktop", HoldUntil: "never"})
	c.Advance(0.2)

	if n := c.ForceStopAll(); n != 2 {
		t.Fatalf("ForceStopAll() = %d, want 2", n)
	}
	if a.Phase() != Stopped || b.Phase() != Stopped {
		t.Fatalf("phases = %s, %s, want stopped", a.Phase(), b.Phase())
	}
	if c.Registry().Len() != 0 || len(c.Active()) != 0 || len(scene.tokens) != 0 {
		t.Fatalf("state left behind: registry=%d active=%d tokens=%d", c.Registry().Len(), len(c.Active()), len(scene.tokens))
	}
	if events.count("arrival:a")+events.count("arrival:b") != 0 {
		t.Fatalf("force stop emitted arrivals: %v", events.entries)
	}
	if len(events.stops) != 2 || events.stops[0].Reason != StopReasonForced {
		t.Fatalf("stops = %+v, want two force-stop events", events.stops)
	}
	if !events.stops[0].Launched || !events.stops[1].Launched {
		t.Fatalf("stops = %+v, want both marked launched", events.stops)
	}

	c.Signals().Fire("never")
	advanceN(c, 20, 0.1)
	if got := events.count("arrival:b"); got != 0 {
		t.Fatalf("stopped hop arrived after its release fired")
	}
	if _, err := c.Launch(model.HopRequest{PacketID: "a", From: "desktop", To: "server"}); err != nil {
		t.Fatalf("relaunch after ForceStopAll: %v", err)
	}
}

func TestForceStopAllBeforeLaunch(t *testing.T) {
	c, events := newTestCoordinator(t, mapLookup{"desktop": {}})
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server"})
	c.Advance(0.1)

	if n := c.ForceStopAll(); n != 1 {
		t.Fatalf("ForceStopAll() = %d, want 1", n)
	}
	if h.Phase() != Stopped {
		t.Fatalf("phase = %s, want stopped", h.Phase())
	}
	if len(events.entries) != 1 || events.entries[0] != "stopped:p" {
		t.Fatalf("events = %v, want only stopped:p", events.entries)
	}
	if events.stops[0].Launched {
		t.Fatalf("stop of an unresolved hop reported launched")
	}
}

func TestStopSingleHop(t *testing.T) {
	c, events := newTestCoordinator(t, twoAnchors())
	mustLaunch(t, c, model.HopRequest{PacketID: "a", From: "desktop", To: "server"})
	keep := mustLaunch(t, c, model.HopRequest{PacketID: "b", From: "desktop", To: "server"})

	if !c.Stop("a", "lesson-reset") {
		t.Fatalf("Stop(a) = false, want true")
	}
	if c.Stop("a", "again") || c.Stop("missing", "x") {
		t.Fatalf("Stop on an inactive ID returned true")
	}
	if len(events.stops) != 1 || events.stops[0].Reason != "lesson-reset" || events.stops[0].Phase != Traveling {
		t.Fatalf("stops = %+v", events.stops)
	}
	advanceN(c, 25, 0.1)
	if keep.Phase() != Arrived {
		t.Fatalf("unrelated hop phase = %s, want arrived", keep.Phase())
	}
}

func TestSweepHidesStrayVisuals(t *testing.T) {
	scene := newTokenScene()
	scene.visuals["orphan"] = &VisualRef{ID: "orphan", PacketID: "ghost", Visible: true}
	scene.visuals["live"] = &VisualRef{ID: "live", PacketID: "p", Visible: true}
	c, _ := newTestCoordinator(t, twoAnchors(), WithTokenSink(scene), WithVisualScene(scene))
	mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", HoldUntil: "never"})

	advanceN(c, 9, 0.1)
	if !scene.visuals["orphan"].Visible {
		t.Fatalf("orphan hidden before the sweep interval")
	}
	advanceN(c, 2, 0.1)
	if scene.visuals["orphan"].Visible {
		t.Fatalf("orphan visual still visible after sweep")
	}
	if !scene.visuals["live"].Visible {
		t.Fatalf("live hop visual was hidden")
	}
}

func TestSweepImmediate(t *testing.T) {
	scene := newTokenScene()
	scene.visuals["v1"] = &VisualRef{ID: "v1", PacketID: "gone", Visible: true}
	scene.visuals["v2"] = &VisualRef{ID: "v2", PacketID: "gone2", Visible: false}
	c, _ := newTestCoordinator(t, twoAnchors(), WithVisualScene(scene))
	hidden := c.Sweep()
	if len(hidden) != 1 || hidden[0] != "v1" {
		t.Fatalf("Sweep() = %v, want [v1]", hidden)
	}
	if again := c.Sweep(); len(again) != 0 {
		t.Fatalf("second Sweep() = %v, want nothing", again)
	}
}

func TestSingleTokenPerPacket(t *testing.T) {
	scene := newTokenScene()
	c, _ := newTestCoordinator(t, twoAnchors(), WithTokenSink(scene))
	for _, id := range []string{"a", "b", "c"} {
		mustLaunch(t, c, model.HopRequest{PacketID: id, From: "desktop", To: "server"})
		c.Advance(0.1)
		if len(scene.tokens) > c.Registry().Len() {
			t.Fatalf("tokens = %d exceeds active hops %d", len(scene.tokens), c.Registry().Len())
		}
	}
	advanceN(c, 30, 0.1)
	if len(scene.tokens) != 0 {
		t.Fatalf("tokens left after arrival: %v", scene.tokens)
	}
}

func TestHopsAdvanceInLaunchOrder(t *testing.T) {
	c, events := newTestCoordinator(t, twoAnchors())
	for _, id := range []string{"c", "a", "b"} {
		mustLaunch(t, c, model.HopRequest{PacketID: id, From: "desktop", To: "server", TravelSeconds: 1})
	}
	c.Advance(2)
	want := []string{"launch:c", "arrival:c", "launch:a", "arrival:a", "launch:b", "arrival:b"}
	if len(events.entries) != len(want) {
		t.Fatalf("events = %v, want %v", events.entries, want)
	}
	for i := range want {
		if events.entries[i] != want[i] {
			t.Fatalf("events = %v, want %v", events.entries, want)
		}
	}
}

func TestPostRunsOnNextAdvance(t *testing.T) {
	c, _ := newTestCoordinator(t, twoAnchors())
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Post(func() {
				id := string(rune('a' + i))
				if _, err := c.Launch(model.HopRequest{PacketID: id, From: "desktop", To: "server"}); err != nil {
					t.Errorf("posted launch %s: %v", id, err)
				}
			})
		}()
	}
	wg.Wait()
	if c.Registry().Len() != 0 {
		t.Fatalf("posted work ran before Advance")
	}
	c.Advance(0)
	if c.Registry().Len() != 8 {
		t.Fatalf("registry len = %d, want 8", c.Registry().Len())
	}
}

func TestPostSignalReleasesWaitingHop(t *testing.T) {
	c, _ := newTestCoordinator(t, twoAnchors())
	h := mustLaunch(t, c, model.HopRequest{PacketID: "p", From: "desktop", To: "server", HoldUntil: "ids-clear"})
	c.Advance(3)
	done := make(chan struct{})
	go func() {
		c.Post(func() { c.Signals().Fire("ids-clear") })
		close(done)
	}()
	<-done
	c.Advance(0.1)
	if h.Phase() != Arrived {
		t.Fatalf("phase = %s, want arrived", h.Phase())
	}
}

type countingMetrics struct {
	noopMetrics
	launched, arrived, refused, stopped, stalled int
	active                                       int
}

func (m *countingMetrics) HopLaunched(string)         { m.launched++ }
func (m *countingMetrics) HopArrived(string, float64) { m.arrived++ }
func (m *countingMetrics) HopRefused()                { m.refused++ }
func (m *countingMetrics) HopStopped(string)          { m.stopped++ }
func (m *countingMetrics) HopStalled()                { m.stalled++ }
func (m *countingMetrics) SetActiveHops(n int)        { m.active = n }

func TestCoordinatorReportsMetrics(t *testing.T) {
	m := &countingMetrics{}
	c, _ := newTestCoordinator(t, twoAnchors(), WithMetricsRecorder(m))
	mustLaunch(t, c, model.HopRequest{PacketID: "a", From: "desktop", To: "server"})
	mustLaunch(t, c, model.HopRequest{PacketID: "b", From: "desktop", To: "nowhere"})
	_, _ = c.Launch(model.HopRequest{PacketID: "a", From: "desktop", To: "server"})
	if m.active != 2 || m.refused != 1 {
		t.Fatalf("active=%d refused=%d, want 2 1", m.active, m.refused)
	}
	advanceN(c, 40, 0.1)
	c.Stop("b", "test")
	if m.launched != 1 || m.arrived != 1 || m.stalled != 1 || m.stopped != 1 || m.active != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}
