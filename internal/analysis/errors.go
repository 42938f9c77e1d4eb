package analysis

import "codeberg.org/mutker/sensorpipe/internal/errors"

const (
	ErrPassFailed      = errors.ErrorCode("analysis_pass_failed")
	ErrUnknownStep     = errors.ErrorCode("analysis_unknown_step")
	ErrInvalidStep     = errors.ErrorCode("analysis_invalid_step")
	ErrShutdownTimeout = errors.ErrorCode("analysis_shutdown_timeout")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrPassFailed:      "Analysis pass failed",
		ErrUnknownStep:     "Unknown analysis step",
		ErrInvalidStep:     "Invalid analysis step",
		ErrShutdownTimeout: "Analysis loop did not exit in time",
	})
}
