package sensor

import "sync"

// Event is one reading delivered by a Source. Timestamp is in nanoseconds on
// a clock shared by every kind the source delivers.
type Event struct {
	Kind      Kind
	Timestamp int64
	Values    [3]float64
}

// Listener receives events on the source's goroutine.
type Listener func(Event)

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Source delivers sensor events.
type Source interface {
	// Available reports whether the source can deliver events of kind.
	Available(kind Kind) bool

	// Subscribe registers l for events of kind.
	Subscribe(kind Kind, l Listener) (Subscription, error)
}

// Origin is the shared time origin of one measurement session. The first
// event observed by any channel of the session fixes it.
type Origin struct {
	once sync.Once
	ns   int64
}

func NewOrigin() *Origin {
	return &Origin{}
}

// Mark fixes the origin at ts if it is not set yet and returns the origin.
func (o *Origin) Mark(ts int64) int64 {
	o.once.Do(func() { o.ns = ts })
	return o.ns
}

// fanout keeps listeners per kind. Sources embed it.
type fanout struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Kind]map[uint64]Listener
}

func (f *fanout) add(kind Kind, l Listener) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listeners == nil {
		f.listeners = make(map[Kind]map[uint64]Listener)
	}
	if f.listeners[kind] == nil {
		f.listeners[kind] = make(map[uint64]Listener)
	}
	f.nextID++
	id := f.nextID
	f.listeners[kind][id] = l

	return &fanoutSub{f: f, kind: kind, id: id}
}

func (f *fanout) deliver(ev Event) {
	f.mu.RLock()
	ls := make([]Listener, 0, len(f.listeners[ev.Kind]))
	for _, l := range f.listeners[ev.Kind] {
		ls = append(ls, l)
	}
	f.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}

func (f *fanout) count(kind Kind) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners[kind])
}

type fanoutSub struct {
	f    *fanout
	kind Kind
	id   uint64
	once sync.Once
}

func (s *fanoutSub) Unsubscribe() {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.listeners[s.kind], s.id)
		s.f.mu.Unlock()
	})
}

// ManualSource delivers events only when Emit is called. It backs replay
// tooling and tests.
type ManualSource struct {
	fanout
	available map[Kind]bool
}

// NewManualSource creates a source that reports the given kinds as available.
func NewManualSource(kinds ...Kind) *ManualSource {
	s := &ManualSource{available: make(map[Kind]bool)}
	for _, k := range kinds {
		s.available[k] = true
	}
	return s
}

func (s *ManualSource) Available(kind Kind) bool {
	return s.available[kind]
}

func (s *ManualSource) Subscribe(kind Kind, l Listener) (Subscription, error) {
	return s.add(kind, l), nil
}

// Emit delivers ev synchronously to the current subscribers of ev.Kind.
func (s *ManualSource) Emit(ev Event) {
	s.deliver(ev)
}

// Subscribers returns how many listeners are registered for kind.
func (s *ManualSource) Subscribers(kind Kind) int {
	return s.count(kind)
}
