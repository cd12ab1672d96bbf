package core

import "github.com/signalsfoundry/netsec-simulator/model"

// LaunchEvent is published when a hop's path is built and the token starts
// moving.
type LaunchEvent struct {
	model.PacketMeta
	From     string
	To       string
	Start    model.Vec3
	End      model.Vec3
	Duration float64 // effective travel seconds
}

// PauseEvent is published for every live hop when the coordinator pauses.
type PauseEvent struct {
	model.PacketMeta
	Phase Phase
}

// ResumeEvent is published for every live hop when the coordinator resumes.
type ResumeEvent struct {
	model.PacketMeta
	Phase Phase
}

// HoldStartEvent marks the token reaching the end of its path with a hold
// phase configured.
type HoldStartEvent struct {
	model.PacketMeta
	From     string
	To       string
	Position model.Vec3
	At       float64 // coordinator clock, seconds
}

// HoldCompleteEvent marks the hold timer elapsing while the hop still waits on
// a release event.
type HoldCompleteEvent struct {
	model.PacketMeta
	Awaiting string // release event the hop is parked on
	Signal   string // HoldCompleteSignal fired alongside, if any
}

// ArrivalEvent is the final event of a hop that completed normally.
type ArrivalEvent struct {
	model.PacketMeta
	Position      model.Vec3
	FlightSeconds float64 // coordinator clock from launch to arrival
	Forced        bool    // arrival forced by a release timeout
}

// StoppedEvent is the final event of a hop terminated without arrival. A hop
// stopped while its anchors were still unresolved never published a launch,
// so Stopped is its only lifecycle event and Launched is false.
type StoppedEvent struct {
	model.PacketMeta
	Reason   string
	Phase    Phase // phase at the time of the stop
	Launched bool
}

// StalledEvent reports a hop that could not resolve its anchors for longer
// than the stall window. It is published at most once per hop.
type StalledEvent struct {
	model.PacketMeta
	Missing []string
	Waited  float64
}

// Topic is a synchronous fan-out of one event type. Delivery happens in
// subscription order on the publishing goroutine; late subscribers do not
// see earlier events.
type Topic[T any] struct {
	next uint64
	subs []topicSub[T]
}

type topicSub[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	t.next++
	id := t.next
	t.subs = append(t.subs, topicSub[T]{id: id, fn: fn})
	return func() {
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every current subscriber. Subscribers added or
// removed during delivery take effect from the next Publish.
func (t *Topic[T]) Publish(ev T) {
	if len(t.subs) == 0 {
		return
	}
	subs := t.subs
	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int { return len(t.subs) }

// Bus groups the typed lifecycle topics of the hop engine.
type Bus struct {
	Launch       Topic[LaunchEvent]
	Pause        Topic[PauseEvent]
	Resume       Topic[ResumeEvent]
	HoldStart    Topic[HoldStartEvent]
	HoldComplete Topic[HoldCompleteEvent]
	Arrival      Topic[ArrivalEvent]
	Stopped      Topic[StoppedEvent]
	Stalled      Topic[StalledEvent]
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }
