package lesson

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/internal/logging"
	"github.com/signalsfoundry/netsec-simulator/timectrl"
)

// StopReasonAnchorTimeout is the stop reason for hops whose anchors never
// mounted within the lesson's anchor timeout.
const StopReasonAnchorTimeout = "anchor-timeout"

// Result summarises a lesson run.
type Result struct {
	Completed []string // step IDs executed
	Skipped   []string // step IDs whose hop was refused or invalid
	Arrived   []string // packet IDs that arrived
	Stopped   []string // packet IDs stopped before arrival
}

// Runner executes a lesson against a coordinator. Start, Update and Close
// must be called from the frame loop; Done and Result are safe anywhere.
type Runner struct {
	c      *core.Coordinator
	lesson *Lesson
	ctx    context.Context
	log    logging.Logger

	triggered []bool
	delayed   *timectrl.EventScheduler
	requested map[string]float64 // packet ID -> clock at Launch, until launch
	inflight  map[string]bool
	unsubs    []func()

	mu       sync.Mutex
	result   Result
	started  bool
	finished bool
	done     chan struct{}
}

// NewRunner prepares a run of l on c. Log lines carry the lesson ID.
func NewRunner(c *core.Coordinator, l *Lesson, log logging.Logger) *Runner {
	ctx, log := logging.WithLessonLogger(context.Background(), log, l.ID)
	return &Runner{
		c:         c,
		lesson:    l,
		ctx:       ctx,
		log:       log,
		triggered: make([]bool, len(l.Steps)),
		delayed:   timectrl.NewEventScheduler(timectrl.SecondsClock(c.Clock)),
		requested: make(map[string]float64),
		inflight:  make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the coordinator and runs every start-triggered step.
// Subscriptions come first so no event from a step launched here is missed.
func (r *Runner) Start() {
	if r.started {
		return
	}
	r.started = true
	bus := r.c.Bus()
	r.unsubs = append(r.unsubs,
		bus.Launch.Subscribe(func(e core.LaunchEvent) { delete(r.requested, e.PacketID) }),
		bus.Arrival.Subscribe(r.onArrival),
		bus.Stopped.Subscribe(r.onStopped),
		r.c.Signals().SubscribeAll(r.onSignal),
	)
	r.log.Info(r.ctx, "lesson started",
		logging.String("title", r.lesson.Title),
		logging.Int("steps", len(r.lesson.Steps)),
	)
	for i, s := range r.lesson.Steps {
		if s.Trigger == TriggerStart {
			r.trigger(i)
		}
	}
	r.checkDone()
}

// Update runs delayed steps that are due and enforces the anchor timeout.
// Call it once per frame after the coordinator advanced.
func (r *Runner) Update() {
	if !r.started || r.isFinished() {
		return
	}
	r.delayed.RunDue()
	now := r.c.Clock()

	if timeout := r.lesson.AnchorTimeout; timeout > 0 {
		var expired []string
		for id, at := range r.requested {
			if now-at >= timeout {
				expired = append(expired, id)
			}
		}
		sort.Strings(expired)
		for _, id := range expired {
			delete(r.requested, id)
			r.log.Warn(r.ctx, "hop anchors never mounted; stopping",
				logging.String("packet_id", id),
				logging.Float("timeout_seconds", timeout),
			)
			r.c.Stop(id, StopReasonAnchorTimeout)
		}
	}
	r.checkDone()
}

// Close unsubscribes from the coordinator and drops delayed steps. Hops
// already launched keep running.
func (r *Runner) Close() {
	r.delayed.CancelAll()
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

// Done is closed when every step has run and every hop the lesson launched
// has finished.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Result returns a snapshot of the run so far.
func (r *Runner) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Completed: append([]string(nil), r.result.Completed...),
		Skipped:   append([]string(nil), r.result.Skipped...),
		Arrived:   append([]string(nil), r.result.Arrived...),
		Stopped:   append([]string(nil), r.result.Stopped...),
	}
}

func (r *Runner) onArrival(e core.ArrivalEvent) {
	if !r.inflight[e.PacketID] {
		return
	}
	delete(r.inflight, e.PacketID)
	r.record(func(res *Result) { res.Arrived = append(res.Arrived, e.PacketID) })
	for i, s := range r.lesson.Steps {
		if s.Trigger == TriggerAfterArrival && s.Target == e.PacketID {
			r.trigger(i)
		}
	}
	r.checkDone()
}

func (r *Runner) onStopped(e core.StoppedEvent) {
	if !r.inflight[e.PacketID] {
		return
	}
	delete(r.inflight, e.PacketID)
	delete(r.requested, e.PacketID)
	r.record(func(res *Result) { res.Stopped = append(res.Stopped, e.PacketID) })
	r.checkDone()
}

func (r *Runner) onSignal(name string) {
	for i, s := range r.lesson.Steps {
		if s.Trigger == TriggerOnSignal && s.Target == name {
			r.trigger(i)
		}
	}
	r.checkDone()
}

// trigger runs step i now or schedules it after its delay. Each step
// triggers at most once.
func (r *Runner) trigger(i int) {
	if r.triggered[i] {
		return
	}
	r.triggered[i] = true
	if d := r.lesson.Steps[i].Delay; d > 0 {
		r.delayed.After(time.Duration(d*float64(time.Second)), func() { r.execute(i) })
		return
	}
	r.execute(i)
}

func (r *Runner) execute(i int) {
	s := r.lesson.Steps[i]
	switch s.Action {
	case ActionHop:
		req := s.Hop
		if req.ReleaseTimeout == 0 && req.HoldUntil != "" {
			req.ReleaseTimeout = r.lesson.ReleaseTimeout
		}
		if _, err := r.c.Launch(req); err != nil {
			level := r.log.Warn
			if errors.Is(err, core.ErrHopActive) {
				level = r.log.Info
			}
			level(r.ctx, "lesson hop skipped",
				logging.String("step", s.ID),
				logging.String("packet_id", req.PacketID),
				logging.Err(err),
			)
			r.record(func(res *Result) { res.Skipped = append(res.Skipped, s.ID) })
			return
		}
		r.inflight[req.PacketID] = true
		r.requested[req.PacketID] = r.c.Clock()
	case ActionFire:
		r.c.Signals().Fire(s.Signal)
	case ActionPause:
		r.c.Pause()
	case ActionResume:
		r.c.Resume()
	case ActionSpeed:
		r.c.SetSpeed(s.Speed)
	}
	r.log.Debug(r.ctx, "lesson step executed",
		logging.String("step", s.ID),
		logging.String("action", s.Action.String()),
	)
	r.record(func(res *Result) { res.Completed = append(res.Completed, s.ID) })
}

func (r *Runner) checkDone() {
	if r.isFinished() || r.delayed.Len() > 0 || len(r.inflight) > 0 {
		return
	}
	for _, t := range r.triggered {
		if !t {
			return
		}
	}
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	close(r.done)
	res := r.Result()
	r.log.Info(r.ctx, "lesson complete",
		logging.Int("completed", len(res.Completed)),
		logging.Int("skipped", len(res.Skipped)),
		logging.Int("arrived", len(res.Arrived)),
		logging.Int("stopped", len(res.Stopped)),
	)
}

func (r *Runner) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Runner) record(fn func(*Result)) {
	r.mu.Lock()
	fn(&r.result)
	r.mu.Unlock()
}
