package sensor

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ring(t *testing.T, name string) *buffer.RingBuffer {
	t.Helper()
	r, err := buffer.NewRingBuffer(name, 64)
	require.NoError(t, err)
	return r
}

func ev(kind Kind, ts int64, x, y, z float64) Event {
	return Event{Kind: kind, Timestamp: ts, Values: [3]float64{x, y, z}}
}

func TestNewChannelValidation(t *testing.T) {
	src := NewManualSource(Accelerometer, Pressure)
	targets := Targets{X: ring(t, "x")}

	tests := []struct {
		name    string
		cfg     Config
		targets Targets
		code    errors.ErrorCode
	}{
		{"unknown kind", Config{Kind: Kind(99)}, targets, ErrUnknownKind},
		{"unavailable", Config{Kind: Gyroscope}, targets, ErrUnavailable},
		{"non-finite rate", Config{Kind: Accelerometer, Rate: math.Inf(1)}, targets, ErrInvalidConfig},
		{"rate below period range", Config{Kind: Accelerometer, Rate: 1e-11}, targets, ErrInvalidConfig},
		{"no targets", Config{Kind: Accelerometer}, Targets{}, ErrInvalidConfig},
		{"extra axis on scalar sensor", Config{Kind: Pressure}, Targets{X: ring(t, "p"), Y: ring(t, "py")}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChannel(src, tt.cfg, tt.targets)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestChannelPeriodFromRate(t *testing.T) {
	src := NewManualSource(Accelerometer)

	c, err := NewChannel(src, Config{Kind: Accelerometer, Rate: 50}, Targets{X: ring(t, "x")})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, c.Period())

	c, err = NewChannel(src, Config{Kind: Accelerometer, Rate: -1}, Targets{X: ring(t, "x")})
	require.NoError(t, err)
	assert.Zero(t, c.Period())
}

func TestLongPeriodDoesNotWrap(t *testing.T) {
	src := NewManualSource(Accelerometer)
	x := ring(t, "x")

	// About 2.9e18ns, so lastEmit+period would overflow for late timestamps.
	c, err := NewChannel(src, Config{Kind: Accelerometer, Rate: 3.4e-10}, Targets{X: x})
	require.NoError(t, err)
	assert.Positive(t, c.Period())
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()

	src.Emit(ev(Accelerometer, 7e18, 1, 0, 0))
	src.Emit(ev(Accelerometer, 7e18+1e9, 2, 0, 0))
	assert.Zero(t, x.Len())
}

func TestAveragingEmitsMeanAfterOnePeriod(t *testing.T) {
	const period = int64(100 * time.Millisecond)
	src := NewManualSource(Accelerometer)
	x, y, tb := ring(t, "x"), ring(t, "y"), ring(t, "t")

	c, err := NewChannel(src, Config{Kind: Accelerometer, Rate: 10, Average: true}, Targets{X: x, Y: y, T: tb})
	require.NoError(t, err)
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()

	base := int64(5e9)
	src.Emit(ev(Accelerometer, base, 1, 10, 0))
	src.Emit(ev(Accelerometer, base+period/2, 2, 20, 0))
	assert.Zero(t, x.Len(), "nothing is emitted inside the window")

	src.Emit(ev(Accelerometer, base+period, 6, 60, 0))
	assert.Equal(t, []float64{3}, x.Snapshot())
	assert.Equal(t, []float64{30}, y.Snapshot())
	assert.InDeltaSlice(t, []float64{0.1}, tb.Snapshot(), 1e-12)
}

func TestNonAveragingKeepsLatestValue(t *testing.T) {
	src := NewManualSource(Light)
	x := ring(t, "lux")

	c, err := NewChannel(src, Config{Kind: Light, Rate: 10}, Targets{X: x})
	require.NoError(t, err)
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()

	src.Emit(ev(Light, 0, 100, 0, 0))
	src.Emit(ev(Light, 5e7, 200, 0, 0))
	src.Emit(ev(Light, 1e8, 300, 0, 0))

	assert.Equal(t, []float64{300}, x.Snapshot())
}

func TestZeroPeriodEmitsEverySample(t *testing.T) {
	src := NewManualSource(Gyroscope)
	x, tb := ring(t, "x"), ring(t, "t")

	c, err := NewChannel(src, Config{Kind: Gyroscope, Average: true}, Targets{X: x, T: tb})
	require.NoError(t, err)
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()

	for i := range 10 {
		src.Emit(ev(Gyroscope, int64(i)*1000, float64(i), 0, 0))
		assert.Equal(t, i+1, x.Len())
	}
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, x.Snapshot())
}

func TestStopDiscardsPartialWindowAndUnsubscribes(t *testing.T) {
	src := NewManualSource(Accelerometer)
	x := ring(t, "x")

	c, err := NewChannel(src, Config{Kind: Accelerometer, Rate: 1, Average: true}, Targets{X: x})
	require.NoError(t, err)
	require.NoError(t, c.Start(NewOrigin()))
	assert.Equal(t, 1, src.Subscribers(Accelerometer))

	src.Emit(ev(Accelerometer, 0, 100, 0, 0))
	c.Stop()
	c.Stop()
	assert.False(t, c.Active())
	assert.Zero(t, src.Subscribers(Accelerometer))

	// Late delivery after stop is ignored.
	c.OnSample(ev(Accelerometer, 2e9, 1, 0, 0))
	assert.Zero(t, x.Len())

	// The restarted window does not carry the discarded sum.
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()
	src.Emit(ev(Accelerometer, 10e9, 4, 0, 0))
	src.Emit(ev(Accelerometer, 11e9, 8, 0, 0))
	assert.Equal(t, []float64{6}, x.Snapshot())
}

func TestRestartResetsTimeOrigin(t *testing.T) {
	src := NewManualSource(Pressure)
	tb := ring(t, "t")

	c, err := NewChannel(src, Config{Kind: Pressure}, Targets{T: tb})
	require.NoError(t, err)

	require.NoError(t, c.Start(NewOrigin()))
	src.Emit(ev(Pressure, 1e9, 1013, 0, 0))
	src.Emit(ev(Pressure, 2e9, 1013, 0, 0))
	c.Stop()

	require.NoError(t, c.Start(NewOrigin()))
	src.Emit(ev(Pressure, 7e9, 1013, 0, 0))
	c.Stop()

	assert.Equal(t, []float64{0, 1, 0}, tb.Snapshot())
}

func TestNonFiniteSamplesPropagate(t *testing.T) {
	src := NewManualSource(Accelerometer)
	x := ring(t, "x")

	c, err := NewChannel(src, Config{Kind: Accelerometer}, Targets{X: x})
	require.NoError(t, err)
	require.NoError(t, c.Start(NewOrigin()))
	defer c.Stop()

	src.Emit(ev(Accelerometer, 1, math.NaN(), 0, 0))
	got, ok := x.Latest()
	require.True(t, ok)
	assert.True(t, math.IsNaN(got))
}

func TestChannelsShareTimeOrigin(t *testing.T) {
	src := NewManualSource(Accelerometer, Gyroscope, Pressure)
	origin := NewOrigin()

	kinds := []Kind{Accelerometer, Gyroscope, Pressure}
	times := make(map[Kind]*buffer.RingBuffer)
	for _, k := range kinds {
		times[k] = ring(t, k.String()+"_t")
		c, err := NewChannel(src, Config{Kind: k}, Targets{T: times[k]})
		require.NoError(t, err)
		require.NoError(t, c.Start(origin))
		defer c.Stop()
	}

	// Interleaved delivery; the gyroscope event arrives first.
	src.Emit(ev(Gyroscope, 3_000_000_000, 0, 0, 0))
	src.Emit(ev(Accelerometer, 3_010_000_000, 0, 0, 9.8))
	src.Emit(ev(Pressure, 3_020_000_000, 1013, 0, 0))
	src.Emit(ev(Gyroscope, 3_030_000_000, 0, 0, 0))
	src.Emit(ev(Accelerometer, 3_040_000_000, 0, 0, 9.8))
	src.Emit(ev(Pressure, 3_050_000_000, 1013, 0, 0))

	approx := cmpopts.EquateApprox(0, 1e-9)
	want := map[Kind][]float64{
		Gyroscope:     {0, 0.03},
		Accelerometer: {0.01, 0.04},
		Pressure:      {0.02, 0.05},
	}
	for k, w := range want {
		if diff := cmp.Diff(w, times[k].Snapshot(), approx); diff != "" {
			t.Errorf("%s time axis mismatch (-want +got):\n%s", k, diff)
		}
	}

	var merged []float64
	for i := range 2 {
		for _, k := range []Kind{Gyroscope, Accelerometer, Pressure} {
			merged = append(merged, times[k].Snapshot()[i])
		}
	}
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i], merged[i-1])
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	assert.Equal(t, 1, Accelerometer.PlatformID())
	assert.Equal(t, 10, LinearAcceleration.PlatformID())
	assert.Equal(t, 1, Pressure.Axes())

	_, err := ParseKind("thermometer")
	assert.True(t, errors.HasCode(err, ErrUnknownKind))
}
