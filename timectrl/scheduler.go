package timectrl

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ClockFunc adapts a function to SimClock.
type ClockFunc func() time.Duration

// Elapsed implements SimClock.
func (f ClockFunc) Elapsed() time.Duration { return f() }

// SecondsClock exposes a float seconds counter, such as a coordinator clock,
// as a SimClock.
func SecondsClock(seconds func() float64) SimClock {
	return ClockFunc(func() time.Duration {
		return time.Duration(seconds() * float64(time.Second))
	})
}

type scheduledEvent struct {
	id        string
	at        time.Duration
	f         func()
	cancelled bool
}

// EventScheduler runs callbacks once the clock reaches their scheduled
// simulation time. Events due at the same time run in scheduling order.
type EventScheduler struct {
	clock SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by at
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates a scheduler reading time from clock.
func NewEventScheduler(clock SimClock) *EventScheduler {
	return &EventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the clock's current simulation time.
func (s *EventScheduler) Now() time.Duration { return s.clock.Elapsed() }

// Schedule registers f to run at simulation time at and returns an ID for
// Cancel.
func (s *EventScheduler) Schedule(at time.Duration, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, at: at, f: f}

	idx := sort.Search(len(s.events), func(i int) bool { return s.events[i].at > at })
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
	s.index[id] = ev
	return id
}

// After schedules f d after the current simulation time.
func (s *EventScheduler) After(d time.Duration, f func()) string {
	return s.Schedule(s.Now()+d, f)
}

// Cancel drops a pending event. Unknown or already run IDs are ignored.
func (s *EventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.index[id]; ok {
		ev.cancelled = true
		delete(s.index, id)
	}
}

// CancelAll drops every pending event.
func (s *EventScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ev := range s.index {
		ev.cancelled = true
		delete(s.index, id)
	}
	s.events = nil
}

// Len returns the number of pending events.
func (s *EventScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// RunDue executes every event whose time is <= Now. Callbacks run outside the
// lock and may schedule further events; those run in the same call if due.
func (s *EventScheduler) RunDue() {
	for {
		ev := s.popDue()
		if ev == nil {
			return
		}
		if ev.f != nil {
			ev.f()
		}
	}
}

func (s *EventScheduler) popDue() *scheduledEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Elapsed()
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.at > now {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}
