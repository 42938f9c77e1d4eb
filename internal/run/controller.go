package run

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/analysis"
	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/clock"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/sensor"
	"github.com/google/uuid"
)

const DefaultTick = 100 * time.Millisecond

// Channel is the part of sensor.Channel the controller drives.
type Channel interface {
	Start(origin *sensor.Origin) error
	Stop()
}

// DisplayLock keeps the display awake and its orientation fixed while a run
// is in progress.
type DisplayLock interface {
	Acquire()
	Release()
}

type noopDisplayLock struct{}

func (noopDisplayLock) Acquire() {}
func (noopDisplayLock) Release() {}

// Options configure a Controller. Registry is required.
type Options struct {
	Registry         *buffer.Registry
	Channels         []Channel
	Pass             analysis.Pass
	AnalysisInterval time.Duration
	Clock            clock.Clock
	Tick             time.Duration
	TimedRun         TimedRun
	DisplayLock      DisplayLock

	// OnTransition is called synchronously on every state change. It must
	// not call back into the controller's transition methods.
	OnTransition func(from, to State)
}

type phase int

const (
	phaseStart phase = iota
	phaseStop
)

type countdown struct {
	deadline time.Time
	timer    clock.Timer
	ticker   clock.Ticker
	done     chan struct{}
}

// Controller serializes every lifecycle transition. Its methods are safe to
// call from any goroutine.
type Controller struct {
	registry     *buffer.Registry
	channels     []Channel
	clk          clock.Clock
	tick         time.Duration
	display      DisplayLock
	onTransition func(from, to State)
	analysis     *analysis.Scheduler
	log          logger.Logger

	mu          sync.Mutex
	timed       TimedRun
	gen         uint64
	cd          *countdown
	displayHeld bool

	state       atomic.Int32
	remaining   atomic.Int64
	beforeStart atomic.Bool
	runID       atomic.Pointer[string]
}

func New(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "run controller requires a buffer registry")
	}
	if err := opts.TimedRun.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.DisplayLock == nil {
		opts.DisplayLock = noopDisplayLock{}
	}
	if opts.Pass == nil {
		opts.Pass = analysis.PassFunc(func(context.Context) error { return nil })
	}

	c := &Controller{
		registry:     opts.Registry,
		channels:     opts.Channels,
		clk:          opts.Clock,
		tick:         opts.Tick,
		display:      opts.DisplayLock,
		onTransition: opts.OnTransition,
		timed:        opts.TimedRun,
		log:          logger.Component("run"),
	}
	c.beforeStart.Store(true)
	c.analysis = analysis.NewScheduler(opts.Pass, c, analysis.Options{Interval: opts.AnalysisInterval})

	return c, nil
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Measuring reports whether channels are acquiring, including the final
// phase of a timed run.
func (c *Controller) Measuring() bool { return c.State().Acquiring() }

// BeforeStart is true until the first run starts.
func (c *Controller) BeforeStart() bool { return c.beforeStart.Load() }

// Remaining returns the time left on the active countdown, or zero.
func (c *Controller) Remaining() time.Duration {
	return time.Duration(c.remaining.Load())
}

// RunID identifies the current or most recent run.
func (c *Controller) RunID() string {
	if id := c.runID.Load(); id != nil {
		return *id
	}
	return ""
}

func (c *Controller) Analysis() *analysis.Scheduler { return c.analysis }

func (c *Controller) TimedRun() TimedRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timed
}

// Start begins measuring immediately. An armed start countdown is
// cancelled. Starting while already measuring is a no-op.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Measuring, CountdownToStop:
		return nil
	case CountdownToStart:
		c.cancelCountdown()
	}
	return c.startLocked()
}

// StartTimed arms the start countdown when timed runs are enabled and
// starts immediately otherwise.
func (c *Controller) StartTimed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTimedLocked()
}

// Stop returns to Idle from any state. Buffers keep their contents.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Request resolves a desired measuring state into a transition. A start
// request honours timed-run mode.
func (c *Controller) Request(measuring bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !measuring {
		c.stopLocked()
		return nil
	}
	if c.State() != Idle {
		return nil
	}
	return c.startTimedLocked()
}

// ConfigureTimedRun replaces the timed-run settings. Switching timed mode
// on while a run is acquiring stops that run.
func (c *Controller) ConfigureTimedRun(tr TimedRun) error {
	if err := tr.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tr.Enabled && !c.timed.Enabled && c.State().Acquiring() {
		c.stopLocked()
	}
	c.timed = tr
	return nil
}

// RestoreSettings applies persisted session settings. It is only valid
// while Idle.
func (c *Controller) RestoreSettings(beforeStart bool, tr TimedRun) error {
	if err := tr.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Idle {
		return errors.New().WithData(ErrRestoreWhileRunning, c.State().String())
	}
	c.beforeStart.Store(beforeStart)
	c.timed = tr
	return nil
}

// Shutdown stops any run and waits up to timeout for the analysis loop.
func (c *Controller) Shutdown(timeout time.Duration) error {
	c.Stop()
	return c.analysis.Shutdown(timeout)
}

func (c *Controller) startTimedLocked() error {
	if c.State() != Idle {
		return nil
	}
	if !c.timed.Enabled {
		return c.startLocked()
	}

	c.acquireDisplay()
	c.armCountdown(c.timed.StartDelay, phaseStart)
	c.setState(CountdownToStart)
	return nil
}

func (c *Controller) startLocked() error {
	origin := sensor.NewOrigin()

	err := c.registry.Exclusive(func(tx *buffer.Tx) error {
		tx.ClearAll()
		for i, ch := range c.channels {
			if err := ch.Start(origin); err != nil {
				for _, started := range c.channels[:i] {
					started.Stop()
				}
				return errors.New().Wrap(ErrChannelStartFailed, err)
			}
		}
		return nil
	})
	if err != nil {
		c.releaseDisplay()
		c.setState(Idle)
		return err
	}

	id := uuid.NewString()
	c.runID.Store(&id)
	c.beforeStart.Store(false)
	c.acquireDisplay()
	c.setState(Measuring)
	c.analysis.Start()

	if c.timed.Enabled {
		c.armCountdown(c.timed.StopDelay, phaseStop)
		c.setState(CountdownToStop)
	}
	return nil
}

func (c *Controller) stopLocked() {
	st := c.State()
	if st == Idle {
		return
	}

	c.cancelCountdown()
	if st.Acquiring() {
		for _, ch := range c.channels {
			ch.Stop()
		}
	}
	c.releaseDisplay()
	c.setState(Idle)
}

func (c *Controller) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}

	c.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("run_id", c.RunID()).
		Msg("Run state changed")

	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}

func (c *Controller) acquireDisplay() {
	if !c.displayHeld {
		c.display.Acquire()
		c.displayHeld = true
	}
}

func (c *Controller) releaseDisplay() {
	if c.displayHeld {
		c.display.Release()
		c.displayHeld = false
	}
}

// armCountdown must be called with mu held. Timers are created before it
// returns so a manual clock can be advanced right after.
func (c *Controller) armCountdown(d time.Duration, p phase) {
	c.cancelCountdown()

	cd := &countdown{
		deadline: c.clk.Now().Add(d),
		timer:    c.clk.NewTimer(d),
		ticker:   c.clk.NewTicker(c.tick),
		done:     make(chan struct{}),
	}
	c.cd = cd
	c.gen++
	c.remaining.Store(int64(d))

	go c.runCountdown(cd, c.gen, p)
}

func (c *Controller) cancelCountdown() {
	if c.cd == nil {
		return
	}

	close(c.cd.done)
	c.cd.timer.Stop()
	c.cd.ticker.Stop()
	c.cd = nil
	c.gen++
	c.remaining.Store(0)
}

func (c *Controller) runCountdown(cd *countdown, gen uint64, p phase) {
	for {
		select {
		case <-cd.done:
			return
		case <-cd.ticker.C():
			c.updateRemaining(cd)
		case <-cd.timer.C():
			c.expire(gen, p)
			return
		}
	}
}

func (c *Controller) updateRemaining(cd *countdown) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cd != cd {
		return
	}
	rem := max(cd.deadline.Sub(c.clk.Now()), 0)
	if int64(rem) < c.remaining.Load() {
		c.remaining.Store(int64(rem))
	}
}

func (c *Controller) expire(gen uint64, p phase) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cd == nil || c.gen != gen {
		return
	}
	c.cancelCountdown()

	switch p {
	case phaseStart:
		if err := c.startLocked(); err != nil {
			var coded errors.Error
			if errors.As(err, &coded) {
				c.log.ErrorWithCode(coded).Msg("Timed start failed")
			} else {
				c.log.Error().Err(err).Msg("Timed start failed")
			}
		}
	case phaseStop:
		c.stopLocked()
	}
}
