package telemetry

import "codeberg.org/mutker/nvtuner/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig   = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath   = errors.ErrorCode("telemetry_invalid_db_path")
	ErrInvalidCapacity = errors.ErrorCode("telemetry_invalid_capacity")

	// Monitor Errors
	ErrAlreadyStarted = errors.ErrorCode("telemetry_monitor_already_started")
	ErrInvalidSample  = errors.ErrorCode("telemetry_invalid_sample")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit   = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose  = errors.ErrorCode("telemetry_storage_close_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrorCode("telemetry_operation_timeout")
)
