package console

import (
	"bytes"
	"context"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/analysis"
	"codeberg.org/mutker/sensorpipe/internal/buffer"
	"codeberg.org/mutker/sensorpipe/internal/remote"
	"codeberg.org/mutker/sensorpipe/internal/render"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewRefreshPlainText(t *testing.T) {
	reg := buffer.NewRegistry()
	x, err := reg.Add("accX", 10)
	require.NoError(t, err)
	x.AppendAll([]float64{1, 2.5})
	_, err = reg.Add("accY", 10)
	require.NoError(t, err)
	z, err := reg.Add("accZ", 10)
	require.NoError(t, err)
	z.Append(math.NaN())

	var out bytes.Buffer
	v := NewView("Acceleration", &out)

	require.NoError(t, v.Refresh(render.Frame{
		RunID:     "0123456789abcdef",
		State:     run.CountdownToStop,
		Measuring: true,
		Remaining: 2340 * time.Millisecond,
		Activity:  0.5,
		Latency:   analysis.Latency{P50: time.Millisecond, P99: 3 * time.Millisecond, Count: 12},
		Buffers:   reg,
	}))

	text := out.String()
	assert.NotContains(t, text, "\033[", "no escape codes off a terminal")
	assert.Contains(t, text, "Acceleration  CountdownToStop  run 01234567")
	assert.Contains(t, text, "countdown 2.3s")
	assert.Contains(t, text, "[##########          ]")
	assert.Contains(t, text, "p99 3ms (12)")

	lines := strings.Split(text, "\n")
	var accX, accY, accZ string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "accX"):
			accX = l
		case strings.HasPrefix(l, "accY"):
			accY = l
		case strings.HasPrefix(l, "accZ"):
			accZ = l
		}
	}
	assert.Contains(t, accX, "2/10")
	assert.Contains(t, accX, "2.5")
	assert.Contains(t, accY, "0/10")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(accY), "-"))
	assert.Contains(t, accZ, "NaN")
}

func TestViewIdleWithoutBuffers(t *testing.T) {
	var out bytes.Buffer
	v := NewView("Empty", &out)
	require.NoError(t, v.Refresh(render.Frame{State: run.Idle}))
	assert.Contains(t, out.String(), "Empty  Idle  run -")
	assert.Contains(t, out.String(), "countdown --")
}

func TestViewScrollAndDefocus(t *testing.T) {
	reg := buffer.NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		_, err := reg.Add(name, 1)
		require.NoError(t, err)
	}

	var out bytes.Buffer
	v := NewView("t", &out)
	v.Scroll(1)
	v.Scroll(-5)
	assert.Equal(t, 0, v.Offset())

	v.Scroll(10)
	require.NoError(t, v.Refresh(render.Frame{Buffers: reg}))
	assert.Equal(t, 2, v.Offset(), "offset clamps to the last buffer")
	assert.NotContains(t, out.String(), "\na ")

	v.Defocus()
	assert.Equal(t, 0, v.Offset())
	assert.NoError(t, v.PullInput())
}

type recordingCommands struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingCommands) add(s string) {
	r.mu.Lock()
	r.keys = append(r.keys, s)
	r.mu.Unlock()
}

func (r *recordingCommands) RequestStart()   { r.add("start") }
func (r *recordingCommands) RequestStop()    { r.add("stop") }
func (r *recordingCommands) RequestDefocus() { r.add("defocus") }

func TestKeyboardDispatch(t *testing.T) {
	cmds := &recordingCommands{}
	v := NewView("t", io.Discard)
	kb := NewKeyboard(strings.NewReader("sxjj\x1bzq s"), cmds, v)

	require.NoError(t, kb.Run(context.Background()))
	assert.Equal(t, []string{"start", "stop", "defocus"}, cmds.keys, "keys after q are ignored")
	assert.Equal(t, 2, v.Offset())
}

func TestKeyboardEndOfInput(t *testing.T) {
	cmds := &recordingCommands{}
	kb := NewKeyboard(strings.NewReader("s"), cmds, nil)
	require.NoError(t, kb.Run(context.Background()))
	assert.Equal(t, []string{"start"}, cmds.keys)
}

func TestKeyboardCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewKeyboard(r, &recordingCommands{}, nil).Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestKeyboardDrivesBridge(t *testing.T) {
	bridge := remote.NewBridge()
	kb := NewKeyboard(strings.NewReader("sxs"), bridge, nil)
	require.NoError(t, kb.Run(context.Background()))

	measuring, ok := bridge.TakeStateChange()
	assert.True(t, ok)
	assert.True(t, measuring, "last key wins")
}
