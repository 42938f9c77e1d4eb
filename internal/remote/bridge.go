// Package remote carries externally requested commands into the pipeline.
//
// Remote callers never drive state transitions themselves. They post
// intents on a Bridge, and the render cycle consumes each intent once.
package remote

import (
	"sync"
	"sync/atomic"
)

// Bridge holds pending command intents. Every method is safe for
// concurrent use. A burst of start/stop requests between two reads
// collapses to the last one.
type Bridge struct {
	mu            sync.Mutex
	wantMeasuring bool
	changePending bool

	defocus      atomic.Bool
	inputPending atomic.Bool
}

func NewBridge() *Bridge {
	return &Bridge{}
}

func (b *Bridge) RequestStart() { b.request(true) }
func (b *Bridge) RequestStop()  { b.request(false) }

func (b *Bridge) request(measuring bool) {
	b.mu.Lock()
	b.wantMeasuring = measuring
	b.changePending = true
	b.mu.Unlock()
}

// TakeStateChange returns the pending desired state and clears it. ok is
// false when nothing was requested since the last call.
func (b *Bridge) TakeStateChange() (measuring, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.changePending {
		return false, false
	}
	b.changePending = false
	return b.wantMeasuring, true
}

func (b *Bridge) RequestDefocus() { b.defocus.Store(true) }

// TakeDefocus reports and clears a pending defocus request.
func (b *Bridge) TakeDefocus() bool { return b.defocus.Swap(false) }

// MarkInputPending records that remote data was written into buffers and
// local input must not overwrite it this cycle.
func (b *Bridge) MarkInputPending()  { b.inputPending.Store(true) }
func (b *Bridge) InputPending() bool { return b.inputPending.Load() }

// TakeInputPending reports and clears the pending flag in one step, so a
// mark that lands after the read survives until the next call.
func (b *Bridge) TakeInputPending() bool { return b.inputPending.Swap(false) }
