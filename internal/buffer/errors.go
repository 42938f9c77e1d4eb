package buffer

import "codeberg.org/mutker/sensorpipe/internal/errors"

const (
	ErrInvalidCapacity = errors.ErrorCode("buffer_invalid_capacity")
	ErrInvalidName     = errors.ErrorCode("buffer_invalid_name")
	ErrDuplicateBuffer = errors.ErrorCode("buffer_duplicate")
	ErrUnknownBuffer   = errors.ErrorCode("buffer_unknown")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidCapacity: "Buffer capacity must be positive",
		ErrInvalidName:     "Invalid buffer name",
		ErrDuplicateBuffer: "Buffer already exists",
		ErrUnknownBuffer:   "Unknown buffer",
	})
}
