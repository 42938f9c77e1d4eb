// Package buffer holds the fixed-capacity sample buffers shared by the
// acquisition, analysis and render stages.
package buffer

import (
	"iter"
	"sync"

	"codeberg.org/mutker/sensorpipe/internal/errors"
)

// RingBuffer is a fixed-capacity, insertion-ordered buffer of float64 samples.
// When full, each append evicts the oldest sample.
//
// Appends and reads take a short per-buffer lock and may run from any
// goroutine. Clearing is only reachable through Registry.Exclusive.
type RingBuffer struct {
	name string
	mu   sync.Mutex
	data []float64
	pos  int // next write position
	n    int
}

// NewRingBuffer creates an empty buffer with the given capacity.
func NewRingBuffer(name string, capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidCapacity, struct {
			Buffer   string
			Capacity int
		}{name, capacity})
	}

	return &RingBuffer{
		name: name,
		data: make([]float64, capacity),
	}, nil
}

func (r *RingBuffer) Name() string { return r.name }
func (r *RingBuffer) Cap() int     { return len(r.data) }

// Len returns the number of samples currently held.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Append adds one sample. NaN and Inf are stored as-is.
func (r *RingBuffer) Append(v float64) {
	r.mu.Lock()
	r.push(v)
	r.mu.Unlock()
}

// AppendAll adds samples in order under a single lock acquisition.
func (r *RingBuffer) AppendAll(vs []float64) {
	r.mu.Lock()
	for _, v := range vs {
		r.push(v)
	}
	r.mu.Unlock()
}

func (r *RingBuffer) push(v float64) {
	r.data[r.pos] = v
	r.pos++
	if r.pos == len(r.data) {
		r.pos = 0
	}
	if r.n < len(r.data) {
		r.n++
	}
}

// Replace swaps the whole content for vs, keeping at most the newest Cap()
// values. It is meant for derived outputs that have a single writer.
func (r *RingBuffer) Replace(vs []float64) {
	r.mu.Lock()
	r.reset()
	for _, v := range vs {
		r.push(v)
	}
	r.mu.Unlock()
}

// Latest returns the newest sample.
func (r *RingBuffer) Latest() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == 0 {
		return 0, false
	}
	i := r.pos - 1
	if i < 0 {
		i = len(r.data) - 1
	}
	return r.data[i], true
}

// Snapshot returns an ordered copy of the current contents, oldest first.
func (r *RingBuffer) Snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOut()
}

// Iterate returns a sequence over the contents as of the call. Later appends
// are not observed, and the sequence can be ranged over any number of times.
func (r *RingBuffer) Iterate() iter.Seq[float64] {
	values := r.Snapshot()
	return func(yield func(float64) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}

func (r *RingBuffer) clear() {
	r.mu.Lock()
	r.reset()
	r.mu.Unlock()
}

func (r *RingBuffer) reset() {
	r.pos = 0
	r.n = 0
}

func (r *RingBuffer) copyOut() []float64 {
	out := make([]float64, r.n)
	if r.n < len(r.data) {
		copy(out, r.data[:r.n])
		return out
	}
	k := copy(out, r.data[r.pos:])
	copy(out[k:], r.data[:r.pos])
	return out
}
