package optimizer

import "codeberg.org/mutker/nvtuner/internal/device"

const (
	defaultGrowthFactor = 2.0
	defaultShrinkFactor = 0.5
)

// StepPolicy controls how the per-dimension search advances and backs
// off. On a passing candidate the next stride is the grown step; on a
// failing candidate the step shrinks, and the search stops once it can
// no longer shrink above Min.
type StepPolicy struct {
	Initial      device.MHz
	Min          device.MHz
	GrowthFactor float64
	ShrinkFactor float64
}

func (p StepPolicy) withDefaults() StepPolicy {
	if p.GrowthFactor <= 1 {
		p.GrowthFactor = defaultGrowthFactor
	}
	if p.ShrinkFactor <= 0 || p.ShrinkFactor >= 1 {
		p.ShrinkFactor = defaultShrinkFactor
	}
	if p.Min <= 0 {
		p.Min = 1
	}
	if p.Initial < p.Min {
		p.Initial = p.Min
	}
	return p
}

// Grow returns the accelerated stride used after a passing candidate,
// capped so the stride itself never exceeds maxStride.
func (p StepPolicy) Grow(step, maxStride device.MHz) device.MHz {
	grown := device.MHz(float64(step) * p.GrowthFactor)
	if grown > maxStride {
		grown = maxStride
	}
	if grown < step {
		grown = step
	}
	return grown
}

// Shrink halves the step after a failing candidate. The second return
// is false when the step cannot shrink without dropping below Min,
// which ends the search in that dimension.
func (p StepPolicy) Shrink(step device.MHz) (device.MHz, bool) {
	next := device.MHz(float64(step) * p.ShrinkFactor)
	if next < p.Min {
		return step, false
	}
	return next, true
}
