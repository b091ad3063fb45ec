package device

import "time"

// Controller is the single control surface for a tunable GPU. It is
// implemented once per vendor and selected by the factory in New; a
// deterministic in-memory implementation exists for testing.
type Controller interface {
	// Identity and discovery
	Detect() (Info, error)
	Capabilities() (Capabilities, error)
	DriverVersion() (string, error)

	// Telemetry
	Telemetry() (Sample, error)
	IsHealthy() bool

	// Clock management
	ApplyClockOffset(domain Domain, offset MHz) error
	ResetClocks() error

	// Power management
	SetPowerLimit(limit Watts) error
	ResetPowerLimit() error

	// Preconditions
	SupportsOverclock() bool
	HasPrivileges() bool

	Shutdown() error
}

// Domain types for type safety and validation
type (
	MHz     int
	Watts   int
	Celsius int
)

// Domain identifies a tunable clock domain.
type Domain int

const (
	DomainCore Domain = iota
	DomainMemory
)

func (d Domain) String() string {
	switch d {
	case DomainCore:
		return "core"
	case DomainMemory:
		return "memory"
	default:
		return "unknown"
	}
}

type Info struct {
	Name   string
	UUID   string
	Driver string
}

type OffsetLimits struct {
	Min, Max MHz
}

type PowerLimits struct {
	Min, Max, Default Watts
}

type FanLimits struct {
	Min, Max int
}

// Capabilities reports the device-bounded tuning ranges. Every apply is
// validated against these ranges before it reaches the hardware.
type Capabilities struct {
	CoreOffset          OffsetLimits
	MemoryOffset        OffsetLimits
	Power               PowerLimits
	Fan                 FanLimits
	SupportsClockOffset bool
	SupportsPowerLimit  bool
}

// OffsetLimitsFor returns the offset range for the given clock domain.
func (c Capabilities) OffsetLimitsFor(domain Domain) OffsetLimits {
	if domain == DomainMemory {
		return c.MemoryOffset
	}

	return c.CoreOffset
}

// ThrottleFlags is a bitmask of active frequency-limiting conditions.
type ThrottleFlags uint8

const (
	ThrottleThermal ThrottleFlags = 1 << iota
	ThrottlePower
	ThrottleVoltage
)

func (f ThrottleFlags) Has(flag ThrottleFlags) bool {
	return f&flag != 0
}

func (f ThrottleFlags) Any() bool {
	return f != 0
}

func (f ThrottleFlags) String() string {
	if f == 0 {
		return "none"
	}

	s := ""
	if f.Has(ThrottleThermal) {
		s += "thermal,"
	}
	if f.Has(ThrottlePower) {
		s += "power,"
	}
	if f.Has(ThrottleVoltage) {
		s += "voltage,"
	}

	return s[:len(s)-1]
}

// Sample is a single point-in-time reading of device state.
// Immutable once created.
type Sample struct {
	Timestamp   time.Time
	CoreClock   MHz
	MemoryClock MHz
	PowerDraw   Watts
	Temperature Celsius
	FanSpeed    int
	Utilization int
	Throttle    ThrottleFlags
}
