// Package console draws the pipeline status on a terminal and turns key
// presses into run commands.
package console

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/render"
	"golang.org/x/term"
)

const (
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorReset  = "\033[0m"

	clearScreen = "\033[H\033[2J"

	defaultWidth = 80
	barWidth     = 20
)

// View renders frames as a status screen. It writes plain text when out is
// not a terminal.
type View struct {
	title string
	out   io.Writer
	fd    int
	tty   bool

	mu     sync.Mutex
	offset int
	rows   int
}

func NewView(title string, out io.Writer) *View {
	v := &View{title: title, out: out, fd: -1, rows: 20}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		v.fd = int(f.Fd())
		v.tty = true
	}
	return v
}

// Defocus returns the buffer list to the top.
func (v *View) Defocus() {
	v.mu.Lock()
	v.offset = 0
	v.mu.Unlock()
}

// PullInput is a no-op; the console has no editable fields.
func (v *View) PullInput() error { return nil }

// Scroll moves the buffer list by delta rows.
func (v *View) Scroll(delta int) {
	v.mu.Lock()
	v.offset = max(v.offset+delta, 0)
	v.mu.Unlock()
}

func (v *View) Offset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *View) Refresh(f render.Frame) error {
	width, height := v.size()

	v.mu.Lock()
	defer v.mu.Unlock()

	if height > 6 {
		v.rows = height - 5
	}

	var b bytes.Buffer
	if v.tty {
		b.WriteString(clearScreen)
	}

	runID := f.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	if runID == "" {
		runID = "-"
	}

	v.line(&b, width, "%s%s%s  %s  run %s",
		v.color(colorBold), v.title, v.color(colorReset), v.stateLabel(f), runID)

	countdown := "--"
	if f.Remaining > 0 {
		countdown = f.Remaining.Round(100 * time.Millisecond).String()
	}
	v.line(&b, width, "countdown %-8s activity %s  pass p50 %s p99 %s (%d)",
		countdown, activityBar(f.Activity), f.Latency.P50, f.Latency.P99, f.Latency.Count)

	v.line(&b, width, "%s%-16s %12s %14s%s", v.color(colorDim), "buffer", "samples", "latest", v.color(colorReset))

	if f.Buffers != nil {
		names := f.Buffers.Names()
		if v.offset > max(len(names)-1, 0) {
			v.offset = max(len(names)-1, 0)
		}
		end := min(v.offset+v.rows, len(names))
		for _, name := range names[v.offset:end] {
			buf, ok := f.Buffers.Get(name)
			if !ok {
				continue
			}
			latest := "-"
			if x, ok := buf.Latest(); ok {
				latest = formatValue(x)
			}
			v.line(&b, width, "%-16s %5d/%-6d %14s", name, buf.Len(), buf.Cap(), latest)
		}
		if end < len(names) {
			v.line(&b, width, "%s... %d more%s", v.color(colorDim), len(names)-end, v.color(colorReset))
		}
	}

	v.line(&b, width, "%s[s] start  [x] stop  [j/k] scroll  [q] quit%s", v.color(colorDim), v.color(colorReset))

	_, err := v.out.Write(b.Bytes())
	return err
}

func (v *View) stateLabel(f render.Frame) string {
	label := f.State.String()
	switch {
	case f.Measuring:
		return v.color(colorGreen) + label + v.color(colorReset)
	case f.Remaining > 0:
		return v.color(colorYellow) + label + v.color(colorReset)
	default:
		return label
	}
}

func (v *View) color(c string) string {
	if v.tty {
		return c
	}
	return ""
}

func (v *View) line(b *bytes.Buffer, width int, format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	if !v.tty && len(s) > width {
		s = s[:width]
	}
	b.WriteString(s)
	if v.tty {
		b.WriteString("\r\n")
	} else {
		b.WriteByte('\n')
	}
}

func (v *View) size() (int, int) {
	if v.tty {
		if w, h, err := term.GetSize(v.fd); err == nil && w > 0 {
			return w, h
		}
	}
	return defaultWidth, 0
}

func activityBar(a float64) string {
	n := int(math.Round(min(max(a, 0), 1) * barWidth))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", barWidth-n) + "]"
}

func formatValue(x float64) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 0):
		return fmt.Sprintf("%+v", x)
	default:
		return fmt.Sprintf("%.4g", x)
	}
}
