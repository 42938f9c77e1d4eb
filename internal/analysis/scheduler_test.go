package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "codeberg.org/mutker/sensorpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagGate struct{ on atomic.Bool }

func (g *flagGate) Measuring() bool { return g.on.Load() }

func newTestScheduler(pass Pass, gate Gate) *Scheduler {
	return NewScheduler(pass, gate, Options{Interval: time.Millisecond})
}

func TestSchedulerIdlesWhileNotMeasuring(t *testing.T) {
	var calls atomic.Int32
	gate := &flagGate{}
	s := newTestScheduler(PassFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), gate)

	s.Start()
	defer s.Shutdown(time.Second)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.True(t, s.Running())

	gate.on.Store(true)
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	gate.on.Store(false)
	time.Sleep(5 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

func TestSchedulerSurvivesFailingPasses(t *testing.T) {
	var calls atomic.Int32
	gate := &flagGate{}
	gate.on.Store(true)

	s := newTestScheduler(PassFunc(func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("bad input")
		case 2:
			panic("index out of range")
		}
		return nil
	}), gate)

	s.Start()
	defer s.Shutdown(time.Second)

	assert.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, time.Millisecond)
	assert.True(t, s.Running())
	assert.Equal(t, uint64(2), s.Failures())
	assert.GreaterOrEqual(t, s.Passes(), uint64(4))
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	gate := &flagGate{}
	gate.on.Store(true)

	s := newTestScheduler(PassFunc(func(context.Context) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	}), gate)

	for range 5 {
		s.Start()
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Shutdown(time.Second))

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestSchedulerShutdown(t *testing.T) {
	gate := &flagGate{}
	s := newTestScheduler(PassFunc(func(context.Context) error { return nil }), gate)

	// Shutdown before Start is harmless.
	other := newTestScheduler(PassFunc(func(context.Context) error { return nil }), gate)
	require.NoError(t, other.Shutdown(time.Second))
	other.Start()
	assert.False(t, other.Running())

	s.Start()
	require.NoError(t, s.Shutdown(time.Second))
	assert.False(t, s.Running())
	require.NoError(t, s.Shutdown(time.Second))
}

func TestSchedulerShutdownTimeout(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	s := newTestScheduler(PassFunc(func(context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}), gate)
	s.Start()
	<-entered

	err := s.Shutdown(10 * time.Millisecond)
	assert.True(t, apperrors.HasCode(err, ErrShutdownTimeout))
	assert.True(t, s.Busy())

	close(release)
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, time.Millisecond)
}

func TestSchedulerRecordsLatency(t *testing.T) {
	gate := &flagGate{}
	gate.on.Store(true)
	s := newTestScheduler(PassFunc(func(context.Context) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}), gate)

	s.Start()
	assert.Eventually(t, func() bool { return s.Latency().Count >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Shutdown(time.Second))

	lat := s.Latency()
	assert.GreaterOrEqual(t, lat.P50, time.Millisecond)
	assert.GreaterOrEqual(t, lat.P99, lat.P50)
}
