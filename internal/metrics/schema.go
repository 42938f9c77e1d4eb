package metrics

import "codeberg.org/mutker/sensorpipe/internal/store"

const (
	SchemaVersion = 1

	createTablesSQL = `
        CREATE TABLE IF NOT EXISTS pipeline_metrics (
            id            INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp     INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
            run_id        TEXT NOT NULL,
            state         TEXT NOT NULL,
            measuring     INTEGER NOT NULL CHECK (measuring IN (0, 1)),
            before_start  INTEGER NOT NULL CHECK (before_start IN (0, 1)),
            activity      REAL NOT NULL CHECK (activity BETWEEN 0 AND 1),
            total_samples INTEGER NOT NULL,
            remaining_ms  INTEGER NOT NULL,
            latency_p50_us INTEGER NOT NULL,
            latency_p99_us INTEGER NOT NULL,
            pass_count    INTEGER NOT NULL
        );
        CREATE INDEX IF NOT EXISTS pipeline_metrics_run ON pipeline_metrics (run_id, timestamp);`

	insertMetricsSQL = `
        INSERT INTO pipeline_metrics (
            timestamp, run_id, state,
            measuring, before_start,
            activity, total_samples, remaining_ms,
            latency_p50_us, latency_p99_us, pass_count
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// Schema is the metrics database layout.
var Schema = store.Schema{
	Name:      "metrics",
	Version:   SchemaVersion,
	Tables:    []string{"pipeline_metrics"},
	CreateSQL: createTablesSQL,
}
