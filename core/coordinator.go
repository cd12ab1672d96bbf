package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/netsec-simulator/internal/logging"
	"github.com/signalsfoundry/netsec-simulator/model"
)

var (
	// ErrHopActive is returned by Launch when the packet ID already owns a
	// live hop. Callers treat it as "skip", not as a failure.
	ErrHopActive = errors.New("hop already active for packet")
	// ErrInvalidHop indicates a request that can never produce a path.
	ErrInvalidHop = errors.New("invalid hop request")
)

// Stop reasons reported in StoppedEvent.
const (
	StopReasonForced         = "force-stop"
	StopReasonReleaseTimeout = "release-timeout"
)

// HopMetricsRecorder receives hop lifecycle counts. Implementations must be
// cheap; they are called from the frame loop.
type HopMetricsRecorder interface {
	HopLaunched(protocol string)
	HopArrived(protocol string, flightSeconds float64)
	HopRefused()
	HopStopped(reason string)
	HopStalled()
	SetActiveHops(n int)
	StrayVisualsHidden(n int)
}

type noopMetrics struct{}

func (noopMetrics) HopLaunched(string)         {}
func (noopMetrics) HopArrived(string, float64) {}
func (noopMetrics) HopRefused()                {}
func (noopMetrics) HopStopped(string)          {}
func (noopMetrics) HopStalled()                {}
func (noopMetrics) SetActiveHops(int)          {}
func (noopMetrics) StrayVisualsHidden(int)     {}

// Coordinator owns every in-flight hop, the instance registry, the lifecycle
// bus and the signal hub. All methods except Post must be called from the
// frame loop goroutine.
type Coordinator struct {
	cfg      EngineConfig
	resolver *AnchorResolver
	sampler  PathSampler
	registry *Registry
	bus      *Bus
	signals  *Signals

	tokens  TokenSink
	visuals VisualScene
	log     logging.Logger
	metrics HopMetricsRecorder

	hops []*Hop
	byID map[string]*Hop

	paused     bool
	speed      float64
	clock      float64
	sinceSweep float64
	advancing  bool

	postMu sync.Mutex
	posted []func()
}

// CoordinatorOption customises Coordinator construction.
type CoordinatorOption func(*Coordinator)

// WithTokenSink routes token placement to a presentation scene.
func WithTokenSink(s TokenSink) CoordinatorOption {
	return func(c *Coordinator) { c.tokens = s }
}

// WithVisualScene enables the periodic stray visual sweep against s.
func WithVisualScene(s VisualScene) CoordinatorOption {
	return func(c *Coordinator) { c.visuals = s }
}

// WithLogger attaches a structured logger for diagnostics.
func WithLogger(l logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m HopMetricsRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBus shares an existing bus instead of creating one.
func WithBus(b *Bus) CoordinatorOption {
	return func(c *Coordinator) {
		if b != nil {
			c.bus = b
		}
	}
}

// WithSignals shares an existing signal hub instead of creating one.
func WithSignals(s *Signals) CoordinatorOption {
	return func(c *Coordinator) {
		if s != nil {
			c.signals = s
		}
	}
}

// NewCoordinator builds a coordinator resolving anchors through lookup.
func NewCoordinator(lookup AnchorLookup, cfg EngineConfig, opts ...CoordinatorOption) *Coordinator {
	cfg = cfg.ApplyDefaults()
	c := &Coordinator{
		cfg:      cfg,
		resolver: NewAnchorResolver(lookup, cfg.AnchorSuffix),
		sampler:  NewPathSampler(cfg),
		registry: NewRegistry(),
		bus:      NewBus(),
		signals:  NewSignals(),
		log:      logging.Noop(),
		metrics:  noopMetrics{},
		byID:     make(map[string]*Hop),
		speed:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective engine configuration.
func (c *Coordinator) Config() EngineConfig { return c.cfg }

// Bus returns the lifecycle bus.
func (c *Coordinator) Bus() *Bus { return c.bus }

// Signals returns the named signal hub.
func (c *Coordinator) Signals() *Signals { return c.signals }

// Registry returns the instance registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Clock returns the accumulated unpaused frame time in seconds.
func (c *Coordinator) Clock() float64 { return c.clock }

// Launch validates req, claims its packet ID and creates a hop. The hop
// resolves its anchors and publishes its launch event on a later Advance.
func (c *Coordinator) Launch(req model.HopRequest) (*Hop, error) {
	if req.PacketID == "" {
		return nil, fmt.Errorf("%w: empty packet ID", ErrInvalidHop)
	}
	if len(FilterPoints(req.Path)) < 2 && (req.From == "" || req.To == "") {
		return nil, fmt.Errorf("%w: %q needs from/to anchors or an explicit path", ErrInvalidHop, req.PacketID)
	}
	if req.HoldUntil != "" && req.HoldCompleteSignal == req.HoldUntil {
		return nil, fmt.Errorf("%w: %q fires its own release signal %q", ErrInvalidHop, req.PacketID, req.HoldUntil)
	}
	if !c.registry.Register(req.PacketID) {
		c.metrics.HopRefused()
		c.log.Debug(context.Background(), "duplicate hop refused", logging.String("packet_id", req.PacketID))
		return nil, fmt.Errorf("%w: %q", ErrHopActive, req.PacketID)
	}

	h := newHop(c, req)
	c.hops = append(c.hops, h)
	c.byID[req.PacketID] = h
	c.metrics.SetActiveHops(c.registry.Len())
	return h, nil
}

// Hop returns the live hop for packetID.
func (c *Coordinator) Hop(packetID string) (*Hop, bool) {
	h, ok := c.byID[packetID]
	return h, ok
}

// Active returns the live hops in launch order.
func (c *Coordinator) Active() []*Hop {
	out := make([]*Hop, 0, len(c.hops))
	for _, h := range c.hops {
		if !h.phase.Terminal() {
			out = append(out, h)
		}
	}
	return out
}

// Advance runs one frame of delta wall seconds: posted work first, then every
// live hop, then the stray sweep. Hops launched during the frame start on the
// next one.
func (c *Coordinator) Advance(delta float64) {
	c.drainPosted()
	if !finite(delta) || delta < 0 {
		delta = 0
	}
	if c.paused {
		return
	}
	c.clock += delta

	c.advancing = true
	hops := c.hops
	n := len(hops)
	for i := 0; i < n; i++ {
		if h := hops[i]; !h.phase.Terminal() {
			h.advance(delta, c.speed)
		}
	}
	c.advancing = false
	c.prune()

	if c.visuals != nil && c.cfg.SweepSeconds > 0 {
		c.sinceSweep += delta
		if c.sinceSweep >= c.cfg.SweepSeconds {
			c.sinceSweep = 0
			c.Sweep()
		}
	}
}

// Sweep hides stray packet visuals immediately and returns their IDs.
func (c *Coordinator) Sweep() []string {
	hidden := SweepStrays(c.visuals, c.registry)
	if len(hidden) > 0 {
		c.metrics.StrayVisualsHidden(len(hidden))
		c.log.Info(context.Background(), "hid stray packet visuals", logging.Any("visuals", hidden))
	}
	return hidden
}

// Stop terminates one live hop without arrival.
func (c *Coordinator) Stop(packetID, reason string) bool {
	h, ok := c.byID[packetID]
	if !ok || h.phase.Terminal() {
		return false
	}
	h.stop(reason)
	if !c.advancing {
		c.prune()
	}
	return true
}

// ForceStopAll terminates every live hop without arrival and clears the
// registry. It returns the number of hops stopped.
func (c *Coordinator) ForceStopAll() int {
	stopped := 0
	for _, h := range append([]*Hop(nil), c.hops...) {
		if !h.phase.Terminal() {
			h.stop(StopReasonForced)
			stopped++
		}
	}
	c.registry.Clear()
	c.metrics.SetActiveHops(0)
	if !c.advancing {
		c.prune()
	}
	return stopped
}

// Pause freezes every live hop. Launched hops get a pause event.
func (c *Coordinator) Pause() {
	if c.paused {
		return
	}
	c.paused = true
	for _, h := range c.Active() {
		if h.hasPath {
			c.bus.Pause.Publish(PauseEvent{PacketMeta: h.meta, Phase: h.phase})
		}
	}
}

// Resume continues from exactly where Pause froze the hops.
func (c *Coordinator) Resume() {
	if !c.paused {
		return
	}
	c.paused = false
	for _, h := range c.Active() {
		if h.hasPath {
			c.bus.Resume.Publish(ResumeEvent{PacketMeta: h.meta, Phase: h.phase})
		}
	}
}

// TogglePause flips the pause state and reports whether it is now paused.
func (c *Coordinator) TogglePause() bool {
	if c.paused {
		c.Resume()
	} else {
		c.Pause()
	}
	return c.paused
}

// Paused reports whether advancement is frozen.
func (c *Coordinator) Paused() bool { return c.paused }

// SetSpeed sets the global speed multiplier, clamped to the configured
// range, and returns the applied value.
func (c *Coordinator) SetSpeed(speed float64) float64 {
	c.speed = c.cfg.ClampSpeed(speed)
	return c.speed
}

// Speed returns the current speed multiplier.
func (c *Coordinator) Speed() float64 { return c.speed }

// Post queues fn to run on the frame loop at the start of the next Advance.
// It is the only method safe to call from other goroutines.
func (c *Coordinator) Post(fn func()) {
	if fn == nil {
		return
	}
	c.postMu.Lock()
	c.posted = append(c.posted, fn)
	c.postMu.Unlock()
}

func (c *Coordinator) drainPosted() {
	c.postMu.Lock()
	fns := c.posted
	c.posted = nil
	c.postMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// release frees everything a terminal hop holds.
func (c *Coordinator) release(h *Hop) {
	if h.unsubRelease != nil {
		h.unsubRelease()
		h.unsubRelease = nil
	}
	if cur, ok := c.byID[h.meta.PacketID]; ok && cur == h {
		delete(c.byID, h.meta.PacketID)
		c.registry.Unregister(h.meta.PacketID)
	}
	if c.tokens != nil {
		c.tokens.RemoveToken(h.meta.PacketID)
	}
	c.metrics.SetActiveHops(c.registry.Len())
}

func (c *Coordinator) prune() {
	live := c.hops[:0:0]
	for _, h := range c.hops {
		if !h.phase.Terminal() {
			live = append(live, h)
		}
	}
	c.hops = live
}
