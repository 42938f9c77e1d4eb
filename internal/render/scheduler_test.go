package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/analysis"
	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/remote"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	state    atomic.Int32
	requests []bool
	err      error
}

func (r *fakeRunner) Request(measuring bool) error {
	r.requests = append(r.requests, measuring)
	if r.err != nil {
		return r.err
	}
	if measuring {
		r.state.Store(int32(run.Measuring))
	} else {
		r.state.Store(int32(run.Idle))
	}
	return nil
}

func (r *fakeRunner) State() run.State         { return run.State(r.state.Load()) }
func (r *fakeRunner) BeforeStart() bool        { return false }
func (r *fakeRunner) Remaining() time.Duration { return 0 }
func (r *fakeRunner) RunID() string            { return "run-1" }

type fakeActivity struct{ busy atomic.Bool }

func (a *fakeActivity) Busy() bool                { return a.busy.Load() }
func (a *fakeActivity) Latency() analysis.Latency { return analysis.Latency{P50: time.Millisecond} }

type fakeView struct {
	mu         sync.Mutex
	defocused  int
	pulled     int
	refreshed  []Frame
	refreshErr error
	panicOnce  bool
	onRefresh  func()
}

func (v *fakeView) Defocus() {
	v.mu.Lock()
	v.defocused++
	v.mu.Unlock()
}

func (v *fakeView) PullInput() error {
	v.mu.Lock()
	v.pulled++
	v.mu.Unlock()
	return nil
}

func (v *fakeView) Refresh(f Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panicOnce {
		v.panicOnce = false
		panic("view exploded")
	}
	if err := v.refreshErr; err != nil {
		v.refreshErr = nil
		return err
	}
	v.refreshed = append(v.refreshed, f)
	if v.onRefresh != nil {
		v.onRefresh()
	}
	return nil
}

func (v *fakeView) counts() (defocused, pulled, refreshed int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.defocused, v.pulled, len(v.refreshed)
}

type frameLog struct {
	mu     sync.Mutex
	frames []Frame
}

func (l *frameLog) Record(f Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
}

func TestActivityRampsAndClamps(t *testing.T) {
	act := &fakeActivity{}
	s := New(Deps{Activity: act}, Options{ActivityStep: 0.05})

	act.busy.Store(true)
	for range 10 {
		require.NoError(t, s.Cycle())
	}
	assert.InDelta(t, 0.5, s.Activity(), 1e-9)

	for range 30 {
		require.NoError(t, s.Cycle())
	}
	assert.Equal(t, 1.0, s.Activity())

	act.busy.Store(false)
	for range 40 {
		require.NoError(t, s.Cycle())
	}
	assert.Equal(t, 0.0, s.Activity())
}

func TestDefocusAppliedOnce(t *testing.T) {
	bridge := remote.NewBridge()
	view := &fakeView{}
	s := New(Deps{Commands: bridge, Views: []View{view}}, Options{})

	bridge.RequestDefocus()
	require.NoError(t, s.Cycle())
	require.NoError(t, s.Cycle())

	defocused, _, _ := view.counts()
	assert.Equal(t, 1, defocused)
}

func TestRemoteInputTakesPrecedence(t *testing.T) {
	bridge := remote.NewBridge()
	view := &fakeView{}
	s := New(Deps{Commands: bridge, Views: []View{view}}, Options{})

	bridge.MarkInputPending()
	require.NoError(t, s.Cycle())
	_, pulled, refreshed := view.counts()
	assert.Zero(t, pulled, "local input is not pulled over remote data")
	assert.Equal(t, 1, refreshed)
	assert.False(t, bridge.InputPending())

	require.NoError(t, s.Cycle())
	_, pulled, _ = view.counts()
	assert.Equal(t, 1, pulled)
}

func TestInputMarkedDuringCycleSurvives(t *testing.T) {
	bridge := remote.NewBridge()
	view := &fakeView{}
	s := New(Deps{Commands: bridge, Views: []View{view}}, Options{})

	marked := false
	view.onRefresh = func() {
		if !marked {
			marked = true
			bridge.MarkInputPending()
		}
	}

	require.NoError(t, s.Cycle())
	_, pulled, _ := view.counts()
	assert.Equal(t, 1, pulled)
	assert.True(t, bridge.InputPending())

	require.NoError(t, s.Cycle())
	_, pulled, refreshed := view.counts()
	assert.Equal(t, 1, pulled, "remote data written mid-cycle is not overwritten")
	assert.Equal(t, 2, refreshed)
	assert.False(t, bridge.InputPending())
}

func TestRejectedStateChangeStillRefreshes(t *testing.T) {
	bridge := remote.NewBridge()
	runner := &fakeRunner{err: fmt.Errorf("no sensors")}
	view := &fakeView{}
	s := New(Deps{Commands: bridge, Runner: runner, Views: []View{view}}, Options{})

	bridge.RequestStart()
	err := s.Cycle()
	assert.True(t, errors.HasCode(err, ErrCycleFailed))
	assert.Equal(t, uint64(1), s.Failures())

	_, pulled, refreshed := view.counts()
	assert.Equal(t, 1, pulled)
	assert.Equal(t, 1, refreshed)
	_, ok := s.LastFrame()
	assert.True(t, ok)
}

func TestStateChangeAppliedOnce(t *testing.T) {
	bridge := remote.NewBridge()
	runner := &fakeRunner{}
	s := New(Deps{Commands: bridge, Runner: runner}, Options{})

	bridge.RequestStart()
	require.NoError(t, s.Cycle())
	require.NoError(t, s.Cycle())
	assert.Equal(t, []bool{true}, runner.requests)
}

func TestRemoteBurstResolvesToLastCommand(t *testing.T) {
	reg := buffer.NewRegistry()
	var (
		mu    sync.Mutex
		trans []string
	)
	ctrl, err := run.New(run.Options{
		Registry: reg,
		OnTransition: func(from, to run.State) {
			mu.Lock()
			trans = append(trans, fmt.Sprintf("%s->%s", from, to))
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer ctrl.Shutdown(time.Second)

	bridge := remote.NewBridge()
	s := New(Deps{Commands: bridge, Runner: ctrl, Activity: ctrl.Analysis(), Buffers: reg}, Options{})

	bridge.RequestStart()
	bridge.RequestStop()
	require.NoError(t, s.Cycle())
	assert.Equal(t, run.Idle, ctrl.State())
	assert.Empty(t, trans)

	bridge.RequestStop()
	bridge.RequestStart()
	require.NoError(t, s.Cycle())
	assert.Equal(t, run.Measuring, ctrl.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Idle->Measuring"}, trans)
}

func TestCycleFailureIsContained(t *testing.T) {
	view := &fakeView{refreshErr: fmt.Errorf("bad frame")}
	bridge := remote.NewBridge()
	s := New(Deps{Commands: bridge, Views: []View{view}}, Options{})

	err := s.Cycle()
	assert.True(t, errors.HasCode(err, ErrCycleFailed))
	assert.Equal(t, uint64(1), s.Failures())

	view.mu.Lock()
	view.panicOnce = true
	view.mu.Unlock()
	err = s.Cycle()
	assert.True(t, errors.HasCode(err, ErrCycleFailed))

	require.NoError(t, s.Cycle())
	assert.Equal(t, uint64(2), s.Failures())
	assert.Equal(t, uint64(3), s.Cycles())
}

func TestRunKeepsCyclingAfterPanics(t *testing.T) {
	view := &fakeView{panicOnce: true}
	s := New(Deps{Views: []View{view}}, Options{SlowInterval: time.Millisecond, FastInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, _, refreshed := view.counts()
		return refreshed >= 3
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint64(1), s.Failures())
}

func TestNextIntervalFollowsRunState(t *testing.T) {
	runner := &fakeRunner{}
	s := New(Deps{Runner: runner}, Options{})

	assert.Equal(t, DefaultSlowInterval, s.NextInterval())
	runner.state.Store(int32(run.CountdownToStart))
	assert.Equal(t, DefaultSlowInterval, s.NextInterval())
	runner.state.Store(int32(run.Measuring))
	assert.Equal(t, DefaultFastInterval, s.NextInterval())
	runner.state.Store(int32(run.CountdownToStop))
	assert.Equal(t, DefaultFastInterval, s.NextInterval())
}

func TestFrameContents(t *testing.T) {
	reg := buffer.NewRegistry()
	b, err := reg.Add("accX", 4)
	require.NoError(t, err)
	b.AppendAll([]float64{1, 2, 3})

	runner := &fakeRunner{}
	runner.state.Store(int32(run.Measuring))
	rec := &frameLog{}
	s := New(Deps{Runner: runner, Activity: &fakeActivity{}, Buffers: reg, Recorder: rec}, Options{})

	_, ok := s.LastFrame()
	assert.False(t, ok)

	require.NoError(t, s.Cycle())
	f, ok := s.LastFrame()
	require.True(t, ok)
	assert.Equal(t, "run-1", f.RunID)
	assert.True(t, f.Measuring)
	assert.Equal(t, 3, f.TotalSamples)
	assert.Equal(t, time.Millisecond, f.Latency.P50)
	require.Len(t, rec.frames, 1)
	assert.Equal(t, f.RunID, rec.frames[0].RunID)
}
