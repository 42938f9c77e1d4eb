package buffer

import (
	"sync"

	"codeberg.org/mutker/sensorpipe/internal/errors"
)

// Registry owns the named buffers of one experiment and the coarse lock that
// guards structural operations (clear, full snapshot, restore, remote writes).
// Ordinary appends never take this lock.
type Registry struct {
	structural sync.Mutex

	mu      sync.RWMutex
	buffers map[string]*RingBuffer
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{buffers: make(map[string]*RingBuffer)}
}

// Add creates and registers a buffer. Names must be unique.
func (g *Registry) Add(name string, capacity int) (*RingBuffer, error) {
	errFactory := errors.New()

	if name == "" {
		return nil, errFactory.WithData(ErrInvalidName, "buffer name is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.buffers[name]; ok {
		return nil, errFactory.WithData(ErrDuplicateBuffer, name)
	}

	b, err := NewRingBuffer(name, capacity)
	if err != nil {
		return nil, err
	}
	g.buffers[name] = b
	g.order = append(g.order, name)

	return b, nil
}

// Get looks up a buffer by name.
func (g *Registry) Get(name string) (*RingBuffer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.buffers[name]
	return b, ok
}

// Lookup is Get returning a coded error for unknown names.
func (g *Registry) Lookup(name string) (*RingBuffer, error) {
	b, ok := g.Get(name)
	if !ok {
		return nil, errors.New().WithData(ErrUnknownBuffer, name)
	}
	return b, nil
}

// Names returns buffer names in registration order.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// TotalLen sums the lengths of all buffers. Weakly consistent.
func (g *Registry) TotalLen() int {
	total := 0
	for _, b := range g.all() {
		total += b.Len()
	}
	return total
}

// Exclusive runs fn while holding the structural lock.
func (g *Registry) Exclusive(fn func(tx *Tx) error) error {
	g.structural.Lock()
	defer g.structural.Unlock()
	return fn(&Tx{registry: g})
}

// Snapshot copies every buffer under the structural lock.
func (g *Registry) Snapshot() map[string][]float64 {
	var out map[string][]float64
	_ = g.Exclusive(func(tx *Tx) error {
		out = tx.Snapshot()
		return nil
	})
	return out
}

// Restore replays saved contents under the structural lock.
func (g *Registry) Restore(saved map[string][]float64) int {
	var n int
	_ = g.Exclusive(func(tx *Tx) error {
		n = tx.Restore(saved)
		return nil
	})
	return n
}

// Write replaces a buffer's contents under the structural lock. Used for
// externally supplied data such as remote input.
func (g *Registry) Write(name string, values []float64) error {
	return g.Exclusive(func(tx *Tx) error {
		return tx.Write(name, values)
	})
}

func (g *Registry) all() []*RingBuffer {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*RingBuffer, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.buffers[name])
	}
	return out
}

// Tx exposes structural operations while the registry's lock is held.
type Tx struct {
	registry *Registry
}

// Clear empties one buffer.
func (tx *Tx) Clear(name string) error {
	b, err := tx.registry.Lookup(name)
	if err != nil {
		return err
	}
	b.clear()
	return nil
}

// ClearAll empties every buffer.
func (tx *Tx) ClearAll() {
	for _, b := range tx.registry.all() {
		b.clear()
	}
}

// Snapshot copies every buffer, keyed by name.
func (tx *Tx) Snapshot() map[string][]float64 {
	out := make(map[string][]float64)
	for _, b := range tx.registry.all() {
		out[b.Name()] = b.Snapshot()
	}
	return out
}

// Restore clears each buffer present in saved and replays its values.
// Buffers missing from saved are left untouched. It returns the number of
// buffers restored.
func (tx *Tx) Restore(saved map[string][]float64) int {
	n := 0
	for _, b := range tx.registry.all() {
		values, ok := saved[b.Name()]
		if !ok {
			continue
		}
		b.clear()
		b.AppendAll(values)
		n++
	}
	return n
}

// Write clears the named buffer and appends values.
func (tx *Tx) Write(name string, values []float64) error {
	b, err := tx.registry.Lookup(name)
	if err != nil {
		return err
	}
	b.Replace(values)
	return nil
}
