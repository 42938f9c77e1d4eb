package session

import (
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/store"
)

const (
	ErrInvalidDBPath = store.ErrInvalidDBPath
	ErrInvalidName   = errors.ErrorCode("session_invalid_name")
	ErrNotFound      = errors.ErrorCode("session_not_found")
	ErrStorageAccess = errors.ErrorCode("session_storage_access_failed")
	ErrCorrupt       = errors.ErrorCode("session_corrupt")
	ErrStorageClose  = errors.ErrShutdownFailed
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidName:   "Invalid session name",
		ErrNotFound:      "Session not found",
		ErrStorageAccess: "Failed to access session storage",
		ErrCorrupt:       "Stored session is corrupt",
	})
}
