package sensor

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
)

// Config describes one channel. Rate is in Hz; zero or negative means the
// fastest rate the source delivers.
type Config struct {
	Kind    Kind
	Rate    float64
	Average bool
}

// Targets are the buffers a channel appends to. Any may be nil.
type Targets struct {
	X, Y, Z, T *buffer.RingBuffer
}

func (t Targets) empty() bool {
	return t.X == nil && t.Y == nil && t.Z == nil && t.T == nil
}

// Channel rate-limits and optionally averages the events of one sensor kind
// and appends the result to its target buffers.
type Channel struct {
	source  Source
	cfg     Config
	period  int64
	targets Targets
	log     logger.Logger

	mu         sync.Mutex
	active     bool
	sub        Subscription
	origin     *Origin
	windowOpen bool
	lastEmit   int64
	sum        [3]float64
	count      int
}

// NewChannel validates cfg against source and returns an idle channel.
func NewChannel(source Source, cfg Config, targets Targets) (*Channel, error) {
	errFactory := errors.New()

	if !cfg.Kind.Valid() {
		return nil, errFactory.WithData(ErrUnknownKind, int(cfg.Kind))
	}
	if source == nil || !source.Available(cfg.Kind) {
		return nil, errFactory.WithData(ErrUnavailable, cfg.Kind.String())
	}
	if math.IsNaN(cfg.Rate) || math.IsInf(cfg.Rate, 0) {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "rate must be finite")
	}
	if targets.empty() {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "channel has no target buffers")
	}
	if cfg.Kind.Axes() == 1 && (targets.Y != nil || targets.Z != nil) {
		return nil, errFactory.WithData(ErrInvalidConfig, cfg.Kind.String()+" has a single axis")
	}

	var period int64
	if cfg.Rate > 0 {
		ns := 1e9 / cfg.Rate
		if ns >= math.MaxInt64 {
			return nil, errFactory.WithMessage(ErrInvalidConfig, "rate too low for a nanosecond period")
		}
		period = int64(ns)
	}

	return &Channel{
		source:  source,
		cfg:     cfg,
		period:  period,
		targets: targets,
		log:     logger.Component("sensor"),
	}, nil
}

func (c *Channel) Kind() Kind { return c.cfg.Kind }

// Period returns the emission period. Zero means every event is emitted.
func (c *Channel) Period() time.Duration {
	return time.Duration(c.period)
}

// Start resets the accumulator and subscribes to the source. origin is
// shared by every channel of the session.
func (c *Channel) Start(origin *Origin) error {
	c.Stop()

	c.mu.Lock()
	c.origin = origin
	c.windowOpen = false
	c.resetAccumulator()
	c.active = true
	c.mu.Unlock()

	sub, err := c.source.Subscribe(c.cfg.Kind, c.OnSample)
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		return errors.New().Wrap(ErrSubscribeFailed, err).WithData(c.cfg.Kind.String())
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.log.Debug().Str("sensor", c.cfg.Kind.String()).Msg("Channel started")
	return nil
}

// Stop unsubscribes and discards any partially accumulated window. It is
// safe to call on an idle channel.
func (c *Channel) Stop() {
	c.mu.Lock()
	wasActive := c.active
	sub := c.sub
	c.active = false
	c.sub = nil
	c.resetAccumulator()
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if wasActive {
		c.log.Debug().Str("sensor", c.cfg.Kind.String()).Msg("Channel stopped")
	}
}

func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// OnSample feeds one event into the channel. Events that arrive while the
// channel is stopped are dropped.
func (c *Channel) OnSample(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}

	t0 := ev.Timestamp
	if c.origin != nil {
		t0 = c.origin.Mark(ev.Timestamp)
	}

	if !c.windowOpen {
		c.windowOpen = true
		c.lastEmit = ev.Timestamp
	}

	if c.cfg.Average {
		for i := range c.sum {
			c.sum[i] += ev.Values[i]
		}
		c.count++
	} else {
		c.sum = ev.Values
		c.count = 1
	}

	if ev.Timestamp-c.lastEmit < c.period {
		return
	}

	n := float64(c.count)
	if c.targets.X != nil {
		c.targets.X.Append(c.sum[0] / n)
	}
	if c.targets.Y != nil {
		c.targets.Y.Append(c.sum[1] / n)
	}
	if c.targets.Z != nil {
		c.targets.Z.Append(c.sum[2] / n)
	}
	if c.targets.T != nil {
		c.targets.T.Append(float64(ev.Timestamp-t0) * 1e-9)
	}

	c.lastEmit = ev.Timestamp
	c.resetAccumulator()
}

func (c *Channel) resetAccumulator() {
	c.sum = [3]float64{}
	c.count = 0
}
