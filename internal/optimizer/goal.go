package optimizer

import (
	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
)

const (
	ModePerformance = "performance"
	ModeBalanced    = "balanced"
	ModeQuiet       = "quiet"
)

const (
	// Quiet mode lowers the power ceiling by this fraction of the
	// default limit.
	quietPowerReduction = 0.15
	// Performance mode stops just short of the absolute board maximum.
	performancePowerHeadroom = 0.9
)

// Goal fixes the targets of one optimization run. It is derived once
// from the requested mode and the device-reported limits, then treated
// as immutable.
type Goal struct {
	Mode           string
	MaxTemperature device.Celsius
	MaxPower       device.Watts
	MaxFanSpeed    int
}

// NewGoal derives the run targets from the mode and device
// capabilities.
func NewGoal(mode string, caps device.Capabilities, maxTemp device.Celsius) (Goal, error) {
	errFactory := errors.New()

	switch mode {
	case ModePerformance, ModeBalanced, ModeQuiet:
	default:
		return Goal{}, errFactory.WithData(errors.ErrInvalidArgument, "unknown mode: "+mode)
	}

	goal := Goal{
		Mode:           mode,
		MaxTemperature: maxTemp,
		MaxPower:       caps.Power.Max,
		MaxFanSpeed:    caps.Fan.Max,
	}
	if mode == ModeQuiet {
		goal.MaxPower = quietPowerTarget(caps.Power)
	}

	return goal, nil
}

// powerTarget returns the fixed power level for the non-sweeping modes.
func (g Goal) powerTarget(limits device.PowerLimits) device.Watts {
	switch g.Mode {
	case ModePerformance:
		headroom := float64(limits.Max - limits.Default)
		target := limits.Default + device.Watts(headroom*performancePowerHeadroom)
		if target > limits.Max {
			target = limits.Max
		}
		return target
	case ModeQuiet:
		return quietPowerTarget(limits)
	default:
		return limits.Default
	}
}

func quietPowerTarget(limits device.PowerLimits) device.Watts {
	target := limits.Default - device.Watts(float64(limits.Default)*quietPowerReduction)
	if target < limits.Min {
		target = limits.Min
	}
	return target
}
