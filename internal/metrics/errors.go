package metrics

import (
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/store"
)

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = store.ErrInvalidDBPath

	ErrTransactionFailed = errors.ErrorCode("metrics_transaction_failed")

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed

	// Collection Errors
	ErrMetricsCollection = errors.ErrorCode("metrics_collection_failed")
	ErrInvalidMetrics    = errors.ErrorCode("metrics_invalid_metrics")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrTransactionFailed: "Metrics transaction failed",
		ErrMetricsCollection: "Failed to record metrics",
		ErrInvalidMetrics:    "Invalid metrics snapshot",
	})
}
