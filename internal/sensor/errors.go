package sensor

import "codeberg.org/mutker/sensorpipe/internal/errors"

const (
	// Configuration errors, raised before acquisition starts
	ErrUnknownKind   = errors.ErrorCode("sensor_unknown_kind")
	ErrUnavailable   = errors.ErrorCode("sensor_unavailable")
	ErrInvalidConfig = errors.ErrorCode("sensor_invalid_config")

	// Source errors
	ErrSubscribeFailed = errors.ErrorCode("sensor_subscribe_failed")
	ErrSourceOpen      = errors.ErrorCode("sensor_source_open_failed")
	ErrSourceRead      = errors.ErrorCode("sensor_source_read_failed")
	ErrMalformedLine   = errors.ErrorCode("sensor_malformed_line")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrUnknownKind:     "Unknown sensor kind",
		ErrUnavailable:     "Sensor not available",
		ErrInvalidConfig:   "Invalid sensor configuration",
		ErrSubscribeFailed: "Failed to subscribe to sensor",
		ErrSourceOpen:      "Failed to open sensor source",
		ErrSourceRead:      "Failed to read from sensor source",
		ErrMalformedLine:   "Malformed sensor line",
	})
}
