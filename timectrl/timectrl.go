package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock gives read access to simulation time so components can depend on
// a clock abstraction rather than the controller.
type SimClock interface {
	// Elapsed returns the simulation time since the controller started.
	Elapsed() time.Duration
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces frames with a wall-clock ticker.
	RealTime Mode = iota
	// Accelerated runs frames back to back, still stepping by Tick.
	Accelerated
)

// Listener is invoked once per frame with the new simulation time and the
// frame delta.
type Listener func(simTime, delta time.Duration)

// TimeController drives frames and notifies registered listeners. Listeners
// run on the controller's goroutine, which is the frame loop.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	elapsed   time.Duration
	listeners []Listener
}

// NewTimeController constructs a controller. A non-positive tick defaults to
// one 60 Hz frame.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = time.Second / 60
	}
	return &TimeController{Tick: tick, Mode: mode}
}

// Elapsed returns the current simulation time. Implements SimClock.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.elapsed
}

// SetTime jumps the simulation time without running frames.
func (tc *TimeController) SetTime(d time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.elapsed = d
}

// AddListener registers a callback invoked on every frame. It must not be
// called while the controller is running.
func (tc *TimeController) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step runs n frames synchronously on the caller's goroutine.
func (tc *TimeController) Step(n int) {
	for range n {
		tc.frame()
	}
}

// Start runs frames in a separate goroutine until duration of simulation time
// has elapsed (0 means no limit) or ctx is done. It returns a channel that is
// closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		var ran time.Duration
		for {
			if duration > 0 && ran >= duration {
				return
			}
			if ticks != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticks:
				}
			} else if ctx.Err() != nil {
				return
			}
			tc.frame()
			ran += tc.Tick
		}
	}()
	return done
}

func (tc *TimeController) frame() {
	tc.mu.Lock()
	tc.elapsed += tc.Tick
	now := tc.elapsed
	listeners := tc.listeners
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now, tc.Tick)
	}
}
