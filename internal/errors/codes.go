package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization and lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Tuning run errors
	ErrHardwareUnavailable  ErrorCode = "hardware_unavailable"
	ErrHardwareApplyFailed  ErrorCode = "hardware_apply_failed"
	ErrWorkloadUnavailable  ErrorCode = "workload_unavailable"
	ErrWorkloadCrashed      ErrorCode = "workload_crashed"
	ErrStabilityViolation   ErrorCode = "stability_violation"
	ErrTimeBudgetExceeded   ErrorCode = "time_budget_exceeded"
	ErrConcurrencyViolation ErrorCode = "concurrency_violation"
	ErrRollbackFailed       ErrorCode = "rollback_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:             "Internal error occurred",
	ErrInvalidArgument:      "Invalid argument provided",
	ErrNotImplemented:       "Operation not implemented",
	ErrUnavailable:          "Service unavailable",
	ErrInvalidConfig:        "Invalid configuration",
	ErrMissingConfig:        "Missing configuration",
	ErrBindFlags:            "Failed to bind flags",
	ErrReadConfig:           "Failed to read configuration",
	ErrInitFailed:           "Initialization failed",
	ErrShutdownFailed:       "Shutdown failed",
	ErrAlreadyRunning:       "Another instance is already running",
	ErrHardwareUnavailable:  "Hardware is unavailable",
	ErrHardwareApplyFailed:  "Failed to apply hardware configuration",
	ErrWorkloadUnavailable:  "No workload strategy is available",
	ErrWorkloadCrashed:      "Workload crashed",
	ErrStabilityViolation:   "Configuration failed stability validation",
	ErrTimeBudgetExceeded:   "Time budget exceeded",
	ErrConcurrencyViolation: "An optimization is already running",
	ErrRollbackFailed:       "Failed to restore known-good configuration",
	ErrOperationFailed:      "Operation failed",
	ErrTimeout:              "Operation timed out",
	ErrInvalidOperation:     "Invalid operation",
	ErrInvalidInterval:      "Invalid interval value",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
