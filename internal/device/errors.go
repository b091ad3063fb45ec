package device

import (
	"codeberg.org/mutker/nvtuner/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrNotInitialized   = errors.ErrorCode("device_not_initialized")
	ErrInitFailed       = errors.ErrorCode("device_init_failed")
	ErrDeviceNotFound   = errors.ErrorCode("device_not_found")
	ErrShutdownFailed   = errors.ErrorCode("device_shutdown_failed")
	ErrDeviceInfoFailed = errors.ErrorCode("device_info_failed")

	// Telemetry Errors
	ErrTelemetryReadFailed = errors.ErrorCode("device_telemetry_read_failed")

	// Clock Control Errors
	ErrOffsetOutOfRange   = errors.ErrorCode("device_offset_out_of_range")
	ErrSetClockOffset     = errors.ErrorCode("device_set_clock_offset_failed")
	ErrResetClocks        = errors.ErrorCode("device_reset_clocks_failed")
	ErrOffsetRangesFailed = errors.ErrorCode("device_offset_ranges_failed")

	// Power Management Errors
	ErrPowerOutOfRange   = errors.ErrorCode("device_power_out_of_range")
	ErrSetPowerLimit     = errors.ErrorCode("device_set_power_limit_failed")
	ErrResetPowerLimit   = errors.ErrorCode("device_reset_power_limit_failed")
	ErrPowerLimitsFailed = errors.ErrorCode("device_power_limits_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
