// Package render drives the view layer from a self-rescheduling cycle.
package render

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/analysis"
	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/clock"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/run"
)

const (
	DefaultFastInterval = 40 * time.Millisecond
	DefaultSlowInterval = 400 * time.Millisecond
	DefaultActivityStep = 0.05
)

const ErrCycleFailed = errors.ErrorCode("render_cycle_failed")

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrCycleFailed: "Render cycle failed",
	})
}

// Runner is the controller surface used by the render cycle.
type Runner interface {
	Request(measuring bool) error
	State() run.State
	BeforeStart() bool
	Remaining() time.Duration
	RunID() string
}

// Activity reports analysis progress.
type Activity interface {
	Busy() bool
	Latency() analysis.Latency
}

// Commands are the pending intents posted by remote and keyboard input.
type Commands interface {
	TakeStateChange() (measuring, ok bool)
	TakeDefocus() bool
	TakeInputPending() bool
}

// View is one consumer of rendered frames.
type View interface {
	// Defocus drops any in-progress local edit.
	Defocus()
	// PullInput copies local edits into buffers.
	PullInput() error
	// Refresh redraws from the frame.
	Refresh(f Frame) error
}

// Recorder receives every completed frame.
type Recorder interface {
	Record(f Frame)
}

// Frame is the state a view draws.
type Frame struct {
	At           time.Time
	RunID        string
	State        run.State
	Measuring    bool
	BeforeStart  bool
	Remaining    time.Duration
	Activity     float64
	TotalSamples int
	Latency      analysis.Latency
	Buffers      *buffer.Registry
}

// Deps are the collaborators of a Scheduler. Views and Recorder are
// optional.
type Deps struct {
	Runner   Runner
	Activity Activity
	Commands Commands
	Buffers  *buffer.Registry
	Views    []View
	Recorder Recorder
}

// Options tune cadence and smoothing. Zero values select defaults.
type Options struct {
	FastInterval time.Duration
	SlowInterval time.Duration
	ActivityStep float64
	Clock        clock.Clock
}

// Scheduler runs render cycles one at a time.
type Scheduler struct {
	deps Deps
	opts Options
	log  logger.Logger

	cycleMu  sync.Mutex
	activity atomic.Uint64
	cycles   atomic.Uint64
	failures atomic.Uint64
	last     atomic.Pointer[Frame]
}

func New(deps Deps, opts Options) *Scheduler {
	if opts.FastInterval <= 0 {
		opts.FastInterval = DefaultFastInterval
	}
	if opts.SlowInterval <= 0 {
		opts.SlowInterval = DefaultSlowInterval
	}
	if opts.ActivityStep <= 0 {
		opts.ActivityStep = DefaultActivityStep
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Scheduler{
		deps: deps,
		opts: opts,
		log:  logger.Component("render"),
	}
}

// Run executes cycles until ctx is done. The delay before each cycle is
// chosen after the previous one from the current run state.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Cycle()

	timer := s.opts.Clock.NewTimer(s.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			s.Cycle()
			timer.Reset(s.NextInterval())
		}
	}
}

// NextInterval is the fast interval while acquiring and the slow one
// otherwise.
func (s *Scheduler) NextInterval() time.Duration {
	if s.deps.Runner != nil && s.deps.Runner.State().Acquiring() {
		return s.opts.FastInterval
	}
	return s.opts.SlowInterval
}

// Activity is the smoothed analysis activity in [0, 1].
func (s *Scheduler) Activity() float64 {
	return math.Float64frombits(s.activity.Load())
}

// LastFrame returns the most recent frame, if any cycle completed.
func (s *Scheduler) LastFrame() (Frame, bool) {
	if f := s.last.Load(); f != nil {
		return *f, true
	}
	return Frame{}, false
}

func (s *Scheduler) Cycles() uint64   { return s.cycles.Load() }
func (s *Scheduler) Failures() uint64 { return s.failures.Load() }

// Cycle runs one render cycle. A failure is logged and returned; it never
// prevents later cycles.
func (s *Scheduler) Cycle() (err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.cycles.Add(1)

	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrCycleFailed, fmt.Sprintf("panic: %v", r))
		}
		if err != nil {
			s.failures.Add(1)
			var coded errors.Error
			if errors.As(err, &coded) {
				s.log.ErrorWithCode(coded).Msg("Render cycle skipped")
			} else {
				s.log.Error().Err(err).Msg("Render cycle skipped")
			}
		}
	}()

	return s.cycle()
}

func (s *Scheduler) cycle() error {
	s.stepActivity()

	cmds := s.deps.Commands
	if cmds != nil && cmds.TakeDefocus() {
		for _, v := range s.deps.Views {
			v.Defocus()
		}
	}

	// A rejected state change still lets this cycle pull and refresh; the
	// error is reported once the frame is out.
	var requestErr error
	if cmds != nil && s.deps.Runner != nil {
		if measuring, ok := cmds.TakeStateChange(); ok {
			if err := s.deps.Runner.Request(measuring); err != nil {
				requestErr = errors.New().Wrap(ErrCycleFailed, err)
			}
		}
	}

	// Remote data written since the last cycle wins over local edits.
	remoteInput := cmds != nil && cmds.TakeInputPending()
	if !remoteInput {
		for _, v := range s.deps.Views {
			if err := v.PullInput(); err != nil {
				return errors.New().Wrap(ErrCycleFailed, err)
			}
		}
	}

	frame := s.frame()
	for _, v := range s.deps.Views {
		if err := v.Refresh(frame); err != nil {
			return errors.New().Wrap(ErrCycleFailed, err)
		}
	}

	s.last.Store(&frame)
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(frame)
	}
	return requestErr
}

func (s *Scheduler) stepActivity() {
	a := s.Activity()
	if s.deps.Activity != nil && s.deps.Activity.Busy() {
		a += s.opts.ActivityStep
	} else {
		a -= s.opts.ActivityStep
	}
	a = min(max(a, 0), 1)
	s.activity.Store(math.Float64bits(a))
}

func (s *Scheduler) frame() Frame {
	f := Frame{
		At:       s.opts.Clock.Now(),
		Activity: s.Activity(),
		Buffers:  s.deps.Buffers,
	}
	if r := s.deps.Runner; r != nil {
		f.RunID = r.RunID()
		f.State = r.State()
		f.Measuring = f.State.Acquiring()
		f.BeforeStart = r.BeforeStart()
		f.Remaining = r.Remaining()
	}
	if s.deps.Activity != nil {
		f.Latency = s.deps.Activity.Latency()
	}
	if s.deps.Buffers != nil {
		f.TotalSamples = s.deps.Buffers.TotalLen()
	}
	return f
}
