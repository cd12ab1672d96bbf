package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/netsec-simulator/internal/logging"
	"github.com/signalsfoundry/netsec-simulator/model"
)

// Phase is the lifecycle phase of a hop. Phases only move forward.
type Phase int

const (
	Traveling Phase = iota
	Holding
	WaitingForEvent
	Arrived
	// Stopped is terminal for hops cancelled before arrival.
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Traveling:
		return "traveling"
	case Holding:
		return "holding"
	case WaitingForEvent:
		return "waiting"
	case Arrived:
		return "arrived"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == Arrived || p == Stopped }

// Hop is the handle and state of one in-flight packet traversal. It is
// created by Coordinator.Launch and advanced only by its coordinator.
type Hop struct {
	c    *Coordinator
	req  model.HopRequest
	meta model.PacketMeta

	phase          Phase
	travelDuration float64
	holdSeconds    float64
	ease           EaseFunc

	path     Path
	hasPath  bool
	explicit bool
	// anchor positions the current computed path was built from
	fromPos  model.Vec3
	toPos    model.Vec3
	startAim model.Vec3
	endAim   model.Vec3
	pos      model.Vec3

	elapsedTravel float64
	progress      float64
	holdElapsed   float64
	holdStartedAt float64
	waitElapsed   float64
	launchedAt    float64

	unresolvedFor float64
	stallReported bool
	fallbackNoted bool

	released     bool
	unsubRelease func()
	finished     bool
}

// reachedTolerance is the relative slack allowed when comparing accumulated
// frame time against a duration.
const reachedTolerance = 1e-9

func newHop(c *Coordinator, req model.HopRequest) *Hop {
	cfg := c.cfg
	duration := cfg.TravelDuration(req.TravelSeconds)
	hold := req.HoldSeconds
	if !finite(hold) || hold < 0 {
		hold = 0
	}
	h := &Hop{
		c:              c,
		req:            req,
		meta:           req.Meta(),
		phase:          Traveling,
		travelDuration: duration,
		holdSeconds:    hold,
		ease:           NewEasing(ResolveEasing(req.Easing, cfg.ReducedMotion), duration, cfg.EaseWindowSeconds),
	}
	if req.HoldUntil != "" {
		h.unsubRelease = c.signals.Subscribe(req.HoldUntil, func(string) {
			h.released = true
		})
	}
	return h
}

// PacketID returns the packet identifier.
func (h *Hop) PacketID() string { return h.req.PacketID }

// Request returns the request the hop was launched with.
func (h *Hop) Request() model.HopRequest { return h.req }

// Phase returns the current phase.
func (h *Hop) Phase() Phase { return h.phase }

// Progress returns the eased progress along the path in [0,1].
func (h *Hop) Progress() float64 { return h.progress }

// TravelDuration returns the effective travel time in seconds.
func (h *Hop) TravelDuration() float64 { return h.travelDuration }

// Launched reports whether the path has been built.
func (h *Hop) Launched() bool { return h.hasPath }

// Released reports whether the hop's release event has fired.
func (h *Hop) Released() bool { return h.released }

// Position returns the token position; ok is false until the path is built.
func (h *Hop) Position() (pos model.Vec3, ok bool) { return h.pos, h.hasPath }

// Path returns the sampled path; it is empty until the hop launches.
func (h *Hop) Path() Path { return h.path }

// Done reports whether the hop reached a terminal phase.
func (h *Hop) Done() bool { return h.phase.Terminal() }

func (h *Hop) hasHoldPhase() bool {
	return h.holdSeconds > 0 || h.req.HoldUntil != ""
}

// advance runs one frame. delta is wall seconds, speed the clamped
// multiplier.
func (h *Hop) advance(delta, speed float64) {
	if h.phase.Terminal() {
		return
	}
	if !h.ensurePath(delta) {
		return
	}
	h.trackAnchors()

	carry := delta * speed
	if h.phase == Traveling {
		if carry = h.travel(carry); carry < 0 {
			return
		}
	}
	if h.phase == Holding {
		if carry = h.hold(carry); carry < 0 {
			return
		}
	}
	if h.phase == WaitingForEvent {
		h.wait(carry)
	}
}

// travel returns the time left over after reaching the end of the path, or
// -1 while still moving or after arriving.
func (h *Hop) travel(dt float64) float64 {
	h.elapsedTravel += dt
	raw := math.Min(1, h.elapsedTravel/h.travelDuration)
	if reached(h.elapsedTravel, h.travelDuration) {
		raw = 1
	}
	if p := h.ease(raw); p > h.progress {
		h.progress = p
	}
	if raw < 1 {
		h.place(h.path.At(h.progress))
		return -1
	}

	h.progress = 1
	h.place(h.path.Last())
	if !h.hasHoldPhase() {
		h.arrive(false)
		return -1
	}

	h.phase = Holding
	h.holdStartedAt = h.c.clock
	h.c.bus.HoldStart.Publish(HoldStartEvent{
		PacketMeta: h.meta,
		From:       h.req.From,
		To:         h.req.To,
		Position:   h.pos,
		At:         h.holdStartedAt,
	})
	return math.Max(0, h.elapsedTravel-h.travelDuration)
}

// hold returns the time left over after the hold elapses into
// WaitingForEvent, or -1.
func (h *Hop) hold(dt float64) float64 {
	h.place(h.path.Last())
	h.holdElapsed += dt
	if !reached(h.holdElapsed, h.holdSeconds) {
		return -1
	}
	if h.req.HoldUntil == "" {
		h.arrive(false)
		return -1
	}

	h.phase = WaitingForEvent
	h.c.bus.HoldComplete.Publish(HoldCompleteEvent{
		PacketMeta: h.meta,
		Awaiting:   h.req.HoldUntil,
		Signal:     h.req.HoldCompleteSignal,
	})
	h.c.signals.Fire(h.req.HoldCompleteSignal)
	if h.phase.Terminal() {
		// a handler stopped the hop
		return -1
	}
	return math.Max(0, h.holdElapsed-h.holdSeconds)
}

func (h *Hop) wait(dt float64) {
	h.place(h.path.Last())
	if h.released {
		h.arrive(false)
		return
	}
	h.waitElapsed += dt
	timeout := h.req.ReleaseTimeout
	if !finite(timeout) || timeout <= 0 || !reached(h.waitElapsed, timeout) {
		return
	}
	h.c.log.Warn(context.Background(), "release event never fired; applying timeout policy",
		logging.String("packet_id", h.meta.PacketID),
		logging.String("awaiting", h.req.HoldUntil),
		logging.Float("waited_seconds", h.waitElapsed),
	)
	if h.req.ReleasePolicy == model.ReleaseForceStop {
		h.stop(StopReasonReleaseTimeout)
		return
	}
	h.arrive(true)
}

// reached reports whether elapsed, a sum of frame deltas, has met target.
// Summed deltas can land a few ulps short of the exact total.
func reached(elapsed, target float64) bool {
	return elapsed >= target-target*reachedTolerance
}

// ensurePath builds the path on first use. Anchors are resolved lazily so
// hops may be requested before their devices mount.
func (h *Hop) ensurePath(delta float64) bool {
	if h.hasPath {
		return true
	}
	if len(h.req.Path) > 0 {
		if p, ok := h.c.sampler.Explicit(h.req.Path); ok {
			h.path = p
			h.explicit = true
			h.launch(p.First(), p.Last())
			return true
		}
		if !h.fallbackNoted {
			h.fallbackNoted = true
			h.c.log.Warn(context.Background(), "explicit path unusable; falling back to computed curve",
				logging.String("packet_id", h.meta.PacketID),
				logging.Int("points", len(h.req.Path)),
				logging.Int("valid", len(FilterPoints(h.req.Path))),
			)
		}
	}

	from, okFrom := h.c.resolver.Resolve(h.req.From)
	to, okTo := h.c.resolver.Resolve(h.req.To)
	if !okFrom || !okTo {
		h.noteUnresolved(delta, okFrom, okTo)
		return false
	}
	h.rebuild(from, to)
	h.launch(h.path.First(), h.path.Last())
	return true
}

func (h *Hop) noteUnresolved(delta float64, okFrom, okTo bool) {
	if finite(delta) && delta > 0 {
		h.unresolvedFor += delta
	}
	if h.stallReported || h.unresolvedFor < h.c.cfg.AnchorStallSeconds {
		return
	}
	h.stallReported = true
	var missing []string
	if !okFrom {
		missing = append(missing, h.req.From)
	}
	if !okTo {
		missing = append(missing, h.req.To)
	}
	h.c.log.Warn(context.Background(), "hop anchors unresolved",
		logging.String("packet_id", h.meta.PacketID),
		logging.Any("missing", missing),
		logging.Float("waited_seconds", h.unresolvedFor),
	)
	h.c.metrics.HopStalled()
	h.c.bus.Stalled.Publish(StalledEvent{
		PacketMeta: h.meta,
		Missing:    missing,
		Waited:     h.unresolvedFor,
	})
}

// rebuild samples the computed curve between the anchor positions, applying
// endpoint offsets.
func (h *Hop) rebuild(from, to model.Vec3) {
	h.fromPos, h.toPos = from, to
	h.startAim = h.offsetTarget(h.req.StartOffset, to)
	h.endAim = h.offsetTarget(h.req.EndOffset, from)
	start := applyOffset(from, h.startAim, h.req.StartOffset)
	end := applyOffset(to, h.endAim, h.req.EndOffset)
	h.path = h.c.sampler.Curve(start, end)
	h.hasPath = true
}

func (h *Hop) offsetTarget(off *model.Offset, fallback model.Vec3) model.Vec3 {
	if off == nil || off.Toward == "" {
		return fallback
	}
	if p, ok := h.c.resolver.Resolve(off.Toward); ok {
		return p
	}
	return fallback
}

// trackAnchors rebuilds a computed path when an endpoint anchor or an
// offset's Toward anchor moved.
func (h *Hop) trackAnchors() {
	if h.explicit || h.phase.Terminal() {
		return
	}
	from, okFrom := h.c.resolver.Resolve(h.req.From)
	to, okTo := h.c.resolver.Resolve(h.req.To)
	if !okFrom || !okTo {
		return
	}
	eps := h.c.cfg.AnchorMoveEpsilon
	if from.DistanceTo(h.fromPos) <= eps && to.DistanceTo(h.toPos) <= eps &&
		h.offsetTarget(h.req.StartOffset, to).DistanceTo(h.startAim) <= eps &&
		h.offsetTarget(h.req.EndOffset, from).DistanceTo(h.endAim) <= eps {
		return
	}
	h.rebuild(from, to)
}

func (h *Hop) launch(start, end model.Vec3) {
	h.launchedAt = h.c.clock
	h.place(start)
	h.c.metrics.HopLaunched(h.meta.Protocol)
	h.c.log.Debug(context.Background(), "hop launched",
		logging.String("packet_id", h.meta.PacketID),
		logging.String("from", h.req.From),
		logging.String("to", h.req.To),
		logging.Float("travel_seconds", h.travelDuration),
	)
	h.c.bus.Launch.Publish(LaunchEvent{
		PacketMeta: h.meta,
		From:       h.req.From,
		To:         h.req.To,
		Start:      start,
		End:        end,
		Duration:   h.travelDuration,
	})
}

func (h *Hop) place(pos model.Vec3) {
	h.pos = pos
	if h.c.tokens != nil {
		h.c.tokens.PlaceToken(h.meta.PacketID, pos)
	}
}

func (h *Hop) arrive(forced bool) {
	if h.finished {
		return
	}
	h.finished = true
	h.phase = Arrived
	h.progress = 1
	h.pos = h.path.Last()
	h.c.release(h)

	flight := h.c.clock - h.launchedAt
	h.c.metrics.HopArrived(h.meta.Protocol, flight)
	h.c.log.Debug(context.Background(), "hop arrived",
		logging.String("packet_id", h.meta.PacketID),
		logging.Float("flight_seconds", flight),
		logging.Bool("forced", forced),
	)
	h.c.bus.Arrival.Publish(ArrivalEvent{
		PacketMeta:    h.meta,
		Position:      h.pos,
		FlightSeconds: flight,
		Forced:        forced,
	})
}

func (h *Hop) stop(reason string) {
	if h.finished {
		return
	}
	h.finished = true
	prev := h.phase
	h.phase = Stopped
	h.c.release(h)

	h.c.metrics.HopStopped(reason)
	h.c.log.Info(context.Background(), "hop stopped",
		logging.String("packet_id", h.meta.PacketID),
		logging.String("reason", reason),
		logging.String("phase", prev.String()),
		logging.Bool("launched", h.hasPath),
	)
	h.c.bus.Stopped.Publish(StoppedEvent{
		PacketMeta: h.meta,
		Reason:     reason,
		Phase:      prev,
		Launched:   h.hasPath,
	})
}
