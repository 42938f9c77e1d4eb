package store

import "codeberg.org/mutker/sensorpipe/internal/errors"

const (
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidDBPath:          "Invalid database path",
		ErrSchemaInitFailed:       "Failed to initialize database schema",
		ErrSchemaValidationFailed: "Failed to validate database schema",
		ErrSchemaMigrationFailed:  "Failed to migrate database schema",
	})
}
