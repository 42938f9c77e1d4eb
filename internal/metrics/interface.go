package metrics

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is one row of pipeline telemetry, taken per render cycle.
type Snapshot struct {
	Timestamp    time.Time
	RunID        string
	State        string
	Measuring    bool
	BeforeStart  bool
	Activity     float64
	TotalSamples int
	Remaining    time.Duration
	Latency      LatencyMetrics
}

type LatencyMetrics struct {
	P50   time.Duration
	P99   time.Duration
	Count int64
}
