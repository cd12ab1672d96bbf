package core

// Signals is a hub of named external events. Collaborators fire a name to
// release hops parked on it; the engine fires HoldCompleteSignal names here
// too. Only the name matters; there is no payload.
type Signals struct {
	byName map[string]*Topic[string]
	all    Topic[string]
}

// NewSignals returns an empty hub.
func NewSignals() *Signals {
	return &Signals{byName: make(map[string]*Topic[string])}
}

// Subscribe registers fn for one signal name.
func (s *Signals) Subscribe(name string, fn func(name string)) (unsubscribe func()) {
	t, ok := s.byName[name]
	if !ok {
		t = &Topic[string]{}
		s.byName[name] = t
	}
	unsub := t.Subscribe(fn)
	return func() {
		unsub()
		if t.Len() == 0 && s.byName[name] == t {
			delete(s.byName, name)
		}
	}
}

// SubscribeAll registers fn for every signal.
func (s *Signals) SubscribeAll(fn func(name string)) (unsubscribe func()) {
	return s.all.Subscribe(fn)
}

// Fire delivers name to its subscribers, then to catch-all subscribers.
// Empty names are ignored.
func (s *Signals) Fire(name string) {
	if name == "" {
		return
	}
	if t, ok := s.byName[name]; ok {
		t.Publish(name)
	}
	s.all.Publish(name)
}
