package device

import (
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000

// thermalThrottleReasons are NVML clock event reasons that indicate
// thermal slowdown.
const thermalThrottleReasons = nvml.ClocksThrottleReasonSwThermalSlowdown |
	nvml.ClocksThrottleReasonHwThermalSlowdown

// powerThrottleReasons are NVML clock event reasons that indicate a
// power cap or power brake.
const powerThrottleReasons = nvml.ClocksThrottleReasonSwPowerCap |
	nvml.ClocksThrottleReasonHwPowerBrakeSlowdown

type nvmlController struct {
	device       nvml.Device
	info         Info
	capabilities Capabilities
	coreOffset   MHz
	memoryOffset MHz
	mu           sync.Mutex
	initialized  bool
}

// New initializes NVML and returns a controller for the first GPU.
func New() (Controller, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	dev, ret := nvml.DeviceGetHandleByIndex(0)
	if !IsNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	c := &nvmlController{device: dev, initialized: true}
	if err := c.initialize(); err != nil {
		nvml.Shutdown()
		return nil, err
	}

	return c, nil
}

func (c *nvmlController) initialize() error {
	info, err := c.Detect()
	if err != nil {
		return err
	}
	c.info = info
	logger.Info().Msgf("Detected GPU: %v (driver %v)", info.Name, info.Driver)

	caps, err := c.probeCapabilities()
	if err != nil {
		return err
	}
	c.capabilities = caps

	logger.Debug().
		Int("core_offset_min", int(caps.CoreOffset.Min)).
		Int("core_offset_max", int(caps.CoreOffset.Max)).
		Int("memory_offset_min", int(caps.MemoryOffset.Min)).
		Int("memory_offset_max", int(caps.MemoryOffset.Max)).
		Int("power_min", int(caps.Power.Min)).
		Int("power_max", int(caps.Power.Max)).
		Int("power_default", int(caps.Power.Default)).
		Msg("Detected tuning capabilities")

	return nil
}

func (c *nvmlController) Detect() (Info, error) {
	errFactory := errors.New()

	name, ret := c.device.GetName()
	if !IsNVMLSuccess(ret) {
		return Info{}, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}

	uuid, ret := c.device.GetUUID()
	if !IsNVMLSuccess(ret) {
		return Info{}, errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}

	driver, err := c.DriverVersion()
	if err != nil {
		return Info{}, err
	}

	return Info{Name: name, UUID: uuid, Driver: driver}, nil
}

func (c *nvmlController) DriverVersion() (string, error) {
	errFactory := errors.New()

	version, ret := nvml.SystemGetDriverVersion()
	if !IsNVMLSuccess(ret) {
		return "", errFactory.Wrap(ErrDeviceInfoFailed, newNVMLError(ret))
	}

	return version, nil
}

func (c *nvmlController) probeCapabilities() (Capabilities, error) {
	errFactory := errors.New()
	caps := Capabilities{}

	minPower, maxPower, ret := c.device.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return caps, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}
	defaultPower, ret := c.device.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return caps, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}
	caps.Power = PowerLimits{
		Min:     Watts(minPower / milliWattsToWatts),
		Max:     Watts(maxPower / milliWattsToWatts),
		Default: Watts(defaultPower / milliWattsToWatts),
	}
	caps.SupportsPowerLimit = true

	if minFan, maxFan, ret := c.device.GetMinMaxFanSpeed(); IsNVMLSuccess(ret) {
		caps.Fan = FanLimits{Min: minFan, Max: maxFan}
	}

	// Offset ranges are unsupported on older devices; the capability
	// flag stays false and the optimizer skips clock stages.
	minCore, maxCore, ret := c.device.GetGpcClkMinMaxVfOffset()
	if IsNVMLSuccess(ret) {
		caps.CoreOffset = OffsetLimits{Min: MHz(minCore), Max: MHz(maxCore)}
		caps.SupportsClockOffset = true
	}
	if minMem, maxMem, ret := c.device.GetMemClkMinMaxVfOffset(); IsNVMLSuccess(ret) {
		caps.MemoryOffset = OffsetLimits{Min: MHz(minMem), Max: MHz(maxMem)}
	}

	return caps, nil
}

func (c *nvmlController) Capabilities() (Capabilities, error) {
	return c.capabilities, nil
}

func (c *nvmlController) Telemetry() (Sample, error) {
	errFactory := errors.New()

	coreClock, ret := c.device.GetClockInfo(nvml.CLOCK_GRAPHICS)
	if !IsNVMLSuccess(ret) {
		return Sample{}, errFactory.Wrap(ErrTelemetryReadFailed, newNVMLError(ret))
	}

	memClock, ret := c.device.GetClockInfo(nvml.CLOCK_MEM)
	if !IsNVMLSuccess(ret) {
		return Sample{}, errFactory.Wrap(ErrTelemetryReadFailed, newNVMLError(ret))
	}

	power, ret := c.device.GetPowerUsage()
	if !IsNVMLSuccess(ret) {
		return Sample{}, errFactory.Wrap(ErrTelemetryReadFailed, newNVMLError(ret))
	}

	temp, ret := c.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return Sample{}, errFactory.Wrap(ErrTelemetryReadFailed, newNVMLError(ret))
	}

	sample := Sample{
		Timestamp:   time.Now(),
		CoreClock:   MHz(coreClock),
		MemoryClock: MHz(memClock),
		PowerDraw:   Watts(power / milliWattsToWatts),
		Temperature: Celsius(temp),
	}

	// Fan speed and utilization are best-effort; some devices report
	// neither under heavy load.
	if fan, ret := c.device.GetFanSpeed(); IsNVMLSuccess(ret) {
		sample.FanSpeed = int(fan)
	}
	if util, ret := c.device.GetUtilizationRates(); IsNVMLSuccess(ret) {
		sample.Utilization = int(util.Gpu)
	}
	if reasons, ret := c.device.GetCurrentClocksThrottleReasons(); IsNVMLSuccess(ret) {
		sample.Throttle = throttleFlagsFromReasons(reasons)
	}

	return sample, nil
}

func throttleFlagsFromReasons(reasons uint64) ThrottleFlags {
	var flags ThrottleFlags
	if reasons&thermalThrottleReasons != 0 {
		flags |= ThrottleThermal
	}
	if reasons&powerThrottleReasons != 0 {
		flags |= ThrottlePower
	}

	return flags
}

func (c *nvmlController) IsHealthy() bool {
	_, ret := c.device.GetTemperature(nvml.TEMPERATURE_GPU)
	return IsNVMLSuccess(ret)
}

func (c *nvmlController) ApplyClockOffset(domain Domain, offset MHz) error {
	errFactory := errors.New()

	limits := c.capabilities.OffsetLimitsFor(domain)
	if offset < limits.Min || offset > limits.Max {
		return errFactory.WithData(ErrOffsetOutOfRange, map[string]any{
			"domain": domain.String(),
			"offset": int(offset),
			"min":    int(limits.Min),
			"max":    int(limits.Max),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var ret nvml.Return
	switch domain {
	case DomainMemory:
		ret = c.device.SetMemClkVfOffset(int(offset))
	default:
		ret = c.device.SetGpcClkVfOffset(int(offset))
	}
	if !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetClockOffset, newNVMLError(ret))
	}

	switch domain {
	case DomainMemory:
		c.memoryOffset = offset
	default:
		c.coreOffset = offset
	}
	logger.Debug().Msgf("Set %s clock offset: %+d MHz", domain, int(offset))

	return nil
}

func (c *nvmlController) ResetClocks() error {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ret := c.device.SetGpcClkVfOffset(0); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrResetClocks, newNVMLError(ret))
	}
	if ret := c.device.SetMemClkVfOffset(0); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrResetClocks, newNVMLError(ret))
	}

	c.coreOffset = 0
	c.memoryOffset = 0
	logger.Debug().Msg("Clock offsets reset")

	return nil
}

func (c *nvmlController) SetPowerLimit(limit Watts) error {
	errFactory := errors.New()

	if limit < c.capabilities.Power.Min || limit > c.capabilities.Power.Max {
		return errFactory.WithData(ErrPowerOutOfRange, map[string]any{
			"limit": int(limit),
			"min":   int(c.capabilities.Power.Min),
			"max":   int(c.capabilities.Power.Max),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ret := c.device.SetPowerManagementLimit(uint32(limit) * milliWattsToWatts); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}
	logger.Debug().Msgf("Set power limit: %dW", int(limit))

	return nil
}

func (c *nvmlController) ResetPowerLimit() error {
	return c.SetPowerLimit(c.capabilities.Power.Default)
}

func (c *nvmlController) SupportsOverclock() bool {
	return c.capabilities.SupportsClockOffset && c.capabilities.CoreOffset.Max > 0
}

func (c *nvmlController) HasPrivileges() bool {
	return os.Geteuid() == 0
}

func (c *nvmlController) Shutdown() error {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}
	c.initialized = false

	return nil
}
