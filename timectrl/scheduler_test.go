package timectrl

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable SimClock.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Duration
}

func (c *fakeClock) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) AdvanceTo(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

func TestEventScheduler_SingleEvent(t *testing.T) {
	clock := &fakeClock{}
	sched := NewEventScheduler(clock)

	var counter int
	id := sched.Schedule(10*time.Second, func() { counter++ })
	if id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	sched.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	clock.AdvanceTo(10 * time.Second)
	sched.RunDue()
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("expected the event to run exactly once, counter=%d", counter)
	}
	if sched.Len() != 0 {
		t.Fatalf("Len() = %d after running, want 0", sched.Len())
	}
}

func TestEventScheduler_OrderAndTies(t *testing.T) {
	clock := &fakeClock{}
	sched := NewEventScheduler(clock)

	var order []string
	record := func(name string) func() { return func() { order = append(order, name) } }
	sched.Schedule(3*time.Second, record("e3"))
	sched.Schedule(1*time.Second, record("e1a"))
	sched.Schedule(2*time.Second, record("e2"))
	sched.Schedule(1*time.Second, record("e1b"))

	clock.AdvanceTo(2 * time.Second)
	sched.RunDue()
	if want := []string{"e1a", "e1b", "e2"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	clock.AdvanceTo(3 * time.Second)
	sched.RunDue()
	if len(order) != 4 || order[3] != "e3" {
		t.Fatalf("order = %v, want e3 last", order)
	}
}

func TestEventScheduler_PastDueAndAfter(t *testing.T) {
	clock := &fakeClock{now: 5 * time.Second}
	sched := NewEventScheduler(clock)

	var ran []string
	sched.Schedule(time.Second, func() { ran = append(ran, "past") })
	sched.After(500*time.Millisecond, func() { ran = append(ran, "after") })

	sched.RunDue()
	if !reflect.DeepEqual(ran, []string{"past"}) {
		t.Fatalf("ran = %v, want only the past-due event", ran)
	}
	clock.AdvanceTo(5500 * time.Millisecond)
	sched.RunDue()
	if !reflect.DeepEqual(ran, []string{"past", "after"}) {
		t.Fatalf("ran = %v", ran)
	}
}

func TestEventScheduler_Cancellation(t *testing.T) {
	clock := &fakeClock{}
	sched := NewEventScheduler(clock)

	var counter int
	id := sched.Schedule(time.Second, func() { counter++ })
	sched.Schedule(time.Second, func() { counter += 10 })
	sched.Cancel(id)
	sched.Cancel("unknown-id")
	if sched.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", sched.Len())
	}

	clock.AdvanceTo(time.Second)
	sched.RunDue()
	if counter != 10 {
		t.Fatalf("counter = %d, want only the uncancelled event", counter)
	}

	sched.Schedule(2*time.Second, func() { counter++ })
	sched.CancelAll()
	clock.AdvanceTo(3 * time.Second)
	sched.RunDue()
	if counter != 10 || sched.Len() != 0 {
		t.Fatalf("CancelAll left events behind: counter=%d len=%d", counter, sched.Len())
	}
}

func TestEventScheduler_Reentrancy(t *testing.T) {
	clock := &fakeClock{}
	sched := NewEventScheduler(clock)

	var counter int
	sched.Schedule(time.Second, func() {
		counter++
		sched.Schedule(time.Second, func() { counter++ })
		sched.Schedule(5*time.Second, func() { counter++ })
	})

	clock.AdvanceTo(time.Second)
	sched.RunDue()
	if counter != 2 {
		t.Fatalf("counter = %d, want the nested due event to run in the same call", counter)
	}
	if sched.Len() != 1 {
		t.Fatalf("Len() = %d, want the future nested event pending", sched.Len())
	}
}

func TestSecondsClock(t *testing.T) {
	secs := 1.25
	clock := SecondsClock(func() float64 { return secs })
	if got := clock.Elapsed(); got != 1250*time.Millisecond {
		t.Fatalf("Elapsed() = %v, want 1.25s", got)
	}
}
