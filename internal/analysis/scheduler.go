// Package analysis runs the experiment's analysis pass on a background loop.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/clock"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	DefaultInterval = 10 * time.Millisecond

	// Pass latency is recorded in microseconds, up to one minute.
	histMin    = 1
	histMax    = 60_000_000
	histSigFig = 3
)

// Pass is one invocation of the analysis. It may fail or panic; either is
// logged and the loop carries on.
type Pass interface {
	Run(ctx context.Context) error
}

// PassFunc adapts a function to Pass.
type PassFunc func(ctx context.Context) error

func (f PassFunc) Run(ctx context.Context) error { return f(ctx) }

// Gate reports whether passes should run.
type Gate interface {
	Measuring() bool
}

// Options tune the scheduler. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Latency summarises pass durations since the scheduler was created.
type Latency struct {
	P50   time.Duration
	P99   time.Duration
	Count int64
}

// Scheduler invokes a Pass repeatedly while its Gate reports measuring.
type Scheduler struct {
	pass     Pass
	gate     Gate
	interval time.Duration
	clk      clock.Clock
	log      logger.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	exited  chan struct{}

	busy     atomic.Bool
	running  atomic.Bool
	passes   atomic.Uint64
	failures atomic.Uint64

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram
}

func NewScheduler(pass Pass, gate Gate, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Scheduler{
		pass:     pass,
		gate:     gate,
		interval: opts.Interval,
		clk:      opts.Clock,
		log:      logger.Component("analysis"),
		hist:     hdrhistogram.New(histMin, histMax, histSigFig),
	}
}

// Start launches the loop. Calling it again while the loop is alive is a
// no-op, as is calling it after Shutdown.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.exited = make(chan struct{})
	s.running.Store(true)

	go s.loop(ctx)
	s.log.Debug().Msg("Analysis loop started")
}

// Busy reports whether a pass is executing right now.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Running reports whether the loop goroutine is alive.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Passes returns the number of completed invocations, failed ones included.
func (s *Scheduler) Passes() uint64 { return s.passes.Load() }

func (s *Scheduler) Failures() uint64 { return s.failures.Load() }

// Shutdown signals the loop and waits up to timeout for it to exit. A
// timeout is logged and returned but leaves the loop to exit on its own.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.started = true
		s.mu.Unlock()
		return nil
	}
	cancel, exited := s.cancel, s.exited
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	select {
	case <-exited:
		s.log.Debug().Msg("Analysis loop stopped")
		return nil
	case <-time.After(timeout):
		err := errors.New().WithData(ErrShutdownTimeout, timeout.String())
		s.log.ErrorWithCode(err).Send()
		return err
	}
}

// Latency returns the median and 99th percentile pass duration.
func (s *Scheduler) Latency() Latency {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	return Latency{
		P50:   time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond,
		P99:   time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond,
		Count: s.hist.TotalCount(),
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.exited)
	defer s.running.Store(false)

	timer := s.clk.NewTimer(s.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if s.gate.Measuring() {
			s.invoke(ctx)
		}

		timer.Reset(s.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context) {
	s.busy.Store(true)
	defer s.busy.Store(false)

	start := s.clk.Now()
	err := s.runPass(ctx)
	elapsed := s.clk.Since(start)

	s.passes.Add(1)
	s.record(elapsed)

	if err != nil {
		s.failures.Add(1)
		var coded errors.Error
		if errors.As(err, &coded) {
			s.log.ErrorWithCode(coded).Msg("Analysis pass skipped")
		} else {
			s.log.Error().Err(err).Msg("Analysis pass skipped")
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrPassFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.pass.Run(ctx); err != nil {
		if errors.HasCode(err, ErrPassFailed) {
			return err
		}
		return errors.New().Wrap(ErrPassFailed, err)
	}
	return nil
}

func (s *Scheduler) record(d time.Duration) {
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if us > histMax {
		us = histMax
	}

	s.histMu.Lock()
	_ = s.hist.RecordValue(us)
	s.histMu.Unlock()
}
