package profile

import (
	"fmt"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"github.com/google/uuid"
)

const (
	ErrOutOfRange  = errors.ErrorCode("profile_out_of_range")
	ErrUnsupported = errors.ErrorCode("profile_unsupported")
)

// Config is one tuning configuration: a clock-offset pair and a power
// limit, identified and timestamped. Offsets and power limit must lie
// within the device-reported capability ranges; Validate enforces this
// before every apply.
type Config struct {
	ID           uuid.UUID
	Label        string
	CoreOffset   device.MHz
	MemoryOffset device.MHz
	PowerLimit   device.Watts
	CreatedAt    time.Time
}

func New(label string, core, memory device.MHz, power device.Watts) Config {
	return Config{
		ID:           uuid.New(),
		Label:        label,
		CoreOffset:   core,
		MemoryOffset: memory,
		PowerLimit:   power,
		CreatedAt:    time.Now(),
	}
}

// Stock returns the baseline configuration: zero offsets, default
// power limit.
func Stock(caps device.Capabilities) Config {
	return New("stock", 0, 0, caps.Power.Default)
}

func (c Config) String() string {
	return fmt.Sprintf("%s (core %+d MHz, memory %+d MHz, power %dW)",
		c.Label, int(c.CoreOffset), int(c.MemoryOffset), int(c.PowerLimit))
}

// Validate checks the configuration against the device capability
// ranges.
func (c Config) Validate(caps device.Capabilities) error {
	errFactory := errors.New()

	if c.CoreOffset != 0 || c.MemoryOffset != 0 {
		if !caps.SupportsClockOffset {
			return errFactory.WithMessage(ErrUnsupported, "device does not support clock offsets")
		}
	}
	if core := caps.CoreOffset; c.CoreOffset < core.Min || c.CoreOffset > core.Max {
		return errFactory.WithData(ErrOutOfRange, fmt.Sprintf("core offset %+d outside [%d, %d]", c.CoreOffset, core.Min, core.Max))
	}
	if mem := caps.MemoryOffset; c.MemoryOffset < mem.Min || c.MemoryOffset > mem.Max {
		return errFactory.WithData(ErrOutOfRange, fmt.Sprintf("memory offset %+d outside [%d, %d]", c.MemoryOffset, mem.Min, mem.Max))
	}
	if power := caps.Power; c.PowerLimit < power.Min || c.PowerLimit > power.Max {
		return errFactory.WithData(ErrOutOfRange, fmt.Sprintf("power limit %d outside [%d, %d]", c.PowerLimit, power.Min, power.Max))
	}

	return nil
}

// Apply validates the configuration and pushes it to the hardware.
func Apply(ctrl device.Controller, c Config) error {
	errFactory := errors.New()

	caps, err := ctrl.Capabilities()
	if err != nil {
		return errFactory.Wrap(errors.ErrHardwareUnavailable, err)
	}
	if err := c.Validate(caps); err != nil {
		return err
	}

	if err := ctrl.ApplyClockOffset(device.DomainCore, c.CoreOffset); err != nil {
		return errFactory.Wrap(errors.ErrHardwareApplyFailed, err)
	}
	if err := ctrl.ApplyClockOffset(device.DomainMemory, c.MemoryOffset); err != nil {
		return errFactory.Wrap(errors.ErrHardwareApplyFailed, err)
	}
	if err := ctrl.SetPowerLimit(c.PowerLimit); err != nil {
		return errFactory.Wrap(errors.ErrHardwareApplyFailed, err)
	}

	return nil
}
