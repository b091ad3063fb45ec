package optimizer_test

import (
	"testing"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/optimizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepPolicyShrink(t *testing.T) {
	p := optimizer.StepPolicy{Initial: 100, Min: 25, ShrinkFactor: 0.5}

	step, ok := p.Shrink(100)
	require.True(t, ok)
	assert.Equal(t, device.MHz(50), step)

	step, ok = p.Shrink(step)
	require.True(t, ok)
	assert.Equal(t, device.MHz(25), step)

	_, ok = p.Shrink(step)
	assert.False(t, ok, "shrinking below the minimum ends the search")
}

func TestStepPolicyGrow(t *testing.T) {
	p := optimizer.StepPolicy{Initial: 100, Min: 25, GrowthFactor: 2}

	assert.Equal(t, device.MHz(200), p.Grow(100, 1500))
	assert.Equal(t, device.MHz(150), p.Grow(100, 150), "growth is capped")
	assert.Equal(t, device.MHz(100), p.Grow(100, 50), "growth never shrinks the stride")
}

func TestNewGoal(t *testing.T) {
	caps := device.Capabilities{
		Power: device.PowerLimits{Min: 150, Max: 360, Default: 300},
		Fan:   device.FanLimits{Min: 0, Max: 100},
	}

	goal, err := optimizer.NewGoal(optimizer.ModeBalanced, caps, 83)
	require.NoError(t, err)
	assert.Equal(t, device.Watts(360), goal.MaxPower)
	assert.Equal(t, device.Celsius(83), goal.MaxTemperature)

	quiet, err := optimizer.NewGoal(optimizer.ModeQuiet, caps, 83)
	require.NoError(t, err)
	assert.Less(t, int(quiet.MaxPower), int(caps.Power.Default),
		"quiet mode lowers the power ceiling below the default")

	_, err = optimizer.NewGoal("turbo", caps, 83)
	require.Error(t, err)
}
