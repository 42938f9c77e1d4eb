package metrics

import (
	"context"

	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/render"
)

// FrameRecorder feeds render frames into a Collector. Failures are logged
// and never reach the render cycle.
type FrameRecorder struct {
	collector Collector
	log       logger.Logger
}

func NewFrameRecorder(c Collector) *FrameRecorder {
	return &FrameRecorder{collector: c, log: logger.Component("metrics")}
}

func (r *FrameRecorder) Record(f render.Frame) {
	snap := FromFrame(f)
	if err := r.collector.Record(context.Background(), &snap); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			r.log.ErrorWithCode(coded).Msg("Dropped metrics snapshot")
			return
		}
		r.log.Error().Err(err).Msg("Dropped metrics snapshot")
	}
}

// FromFrame converts a render frame into a telemetry row.
func FromFrame(f render.Frame) Snapshot {
	return Snapshot{
		Timestamp:    f.At,
		RunID:        f.RunID,
		State:        f.State.String(),
		Measuring:    f.Measuring,
		BeforeStart:  f.BeforeStart,
		Activity:     f.Activity,
		TotalSamples: f.TotalSamples,
		Remaining:    f.Remaining,
		Latency: LatencyMetrics{
			P50:   f.Latency.P50,
			P99:   f.Latency.P99,
			Count: f.Latency.Count,
		},
	}
}
