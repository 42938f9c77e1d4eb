package sensor

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/clock"
)

const defaultSimulatedInterval = 10 * time.Millisecond

// SimulatedSource generates synthetic readings for every kind. Each
// subscription runs its own ticker goroutine, mirroring a platform sensor
// callback thread.
type SimulatedSource struct {
	clk      clock.Clock
	interval time.Duration
	noise    float64

	mu   sync.Mutex
	subs map[*simulatedSub]struct{}
}

// SimulatedOption configures a SimulatedSource.
type SimulatedOption func(*SimulatedSource)

// WithInterval sets the delivery interval of every subscription.
func WithInterval(d time.Duration) SimulatedOption {
	return func(s *SimulatedSource) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces the real clock.
func WithClock(clk clock.Clock) SimulatedOption {
	return func(s *SimulatedSource) { s.clk = clk }
}

// WithNoise sets the amplitude of the uniform noise added to each value.
func WithNoise(amplitude float64) SimulatedOption {
	return func(s *SimulatedSource) { s.noise = amplitude }
}

func NewSimulatedSource(opts ...SimulatedOption) *SimulatedSource {
	s := &SimulatedSource{
		clk:      clock.Real{},
		interval: defaultSimulatedInterval,
		noise:    0.02,
		subs:     make(map[*simulatedSub]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedSource) Available(kind Kind) bool {
	return kind.Valid()
}

func (s *SimulatedSource) Subscribe(kind Kind, l Listener) (Subscription, error) {
	sub := &simulatedSub{
		src:    s,
		ticker: s.clk.NewTicker(s.interval),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.loop(kind, l)
	return sub, nil
}

// Close stops every subscription.
func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	subs := make([]*simulatedSub, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *SimulatedSource) reading(kind Kind, at time.Time) [3]float64 {
	phase := float64(at.UnixNano()) * 1e-9
	n := func() float64 { return (rand.Float64()*2 - 1) * s.noise }

	switch kind {
	case Accelerometer:
		return [3]float64{0.3*math.Sin(2*math.Pi*phase) + n(), 0.3*math.Cos(2*math.Pi*phase) + n(), 9.81 + n()}
	case LinearAcceleration:
		return [3]float64{0.3*math.Sin(2*math.Pi*phase) + n(), 0.3*math.Cos(2*math.Pi*phase) + n(), n()}
	case Gyroscope:
		return [3]float64{0.5*math.Sin(math.Pi*phase) + n(), n(), 0.1*math.Cos(math.Pi*phase) + n()}
	case MagneticField:
		return [3]float64{22 + n(), -5 + n(), 41 + n()}
	case Light:
		return [3]float64{300 + 20*math.Sin(0.2*math.Pi*phase) + n()}
	case Pressure:
		return [3]float64{1013.25 + 0.05*math.Sin(0.01*math.Pi*phase) + n()}
	default:
		return [3]float64{}
	}
}

type simulatedSub struct {
	src    *SimulatedSource
	ticker clock.Ticker
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *simulatedSub) loop(kind Kind, l Listener) {
	defer close(s.exited)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case at := <-s.ticker.C():
			l(Event{Kind: kind, Timestamp: at.UnixNano(), Values: s.src.reading(kind, at)})
		}
	}
}

// Unsubscribe stops the generator and waits for it to exit. It must not be
// called from the listener itself.
func (s *simulatedSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		<-s.exited

		s.src.mu.Lock()
		delete(s.src.subs, s)
		s.src.mu.Unlock()
	})
}
