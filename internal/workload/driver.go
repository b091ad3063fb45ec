package workload

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
)

// Driver runs bounded-duration load on the device, trying an ordered
// list of strategies and using the first one present on the system.
// Only one workload may run at a time per device.
type Driver struct {
	strategies []Strategy
	mu         sync.Mutex
}

// NewDriver builds a Driver. Without explicit strategies the default
// ordered list is used: glmark2, glxgears, nvidia-smi dmon, and a
// synthetic telemetry-only fallback that is always available.
func NewDriver(ctrl device.Controller, strategies ...Strategy) *Driver {
	if len(strategies) == 0 {
		strategies = []Strategy{
			newExecStrategy("glmark2", "glmark2", glmark2Args),
			newExecStrategy("glxgears", "glxgears", glxgearsArgs),
			newExecStrategy("dmon", "nvidia-smi", dmonArgs),
			newSyntheticStrategy(ctrl),
		}
	}

	return &Driver{strategies: strategies}
}

// Run executes a workload for the given duration. A workload that does
// not terminate within duration plus a fixed grace period is forcibly
// killed; one that survives the kill is reported as crashed.
func (d *Driver) Run(ctx context.Context, duration time.Duration, intensity Intensity) (Result, error) {
	errFactory := errors.New()

	if duration <= 0 {
		return Result{}, errFactory.WithData(ErrInvalidSpec, duration.String())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, strategy := range d.strategies {
		if !strategy.Available() {
			logger.Debug().Msgf("Workload strategy %s not available, falling back", strategy.Name())
			continue
		}

		logger.Debug().
			Str("strategy", strategy.Name()).
			Dur("duration", duration).
			Str("intensity", intensity.String()).
			Msg("Starting workload")

		result, err := strategy.Run(ctx, duration, intensity)
		if err != nil {
			if errors.HasCode(err, ErrStartFailed) {
				logger.Warn().AnErr("error", err).Msgf("Workload strategy %s failed to start, falling back", strategy.Name())
				continue
			}
			return result, err
		}
		result.Strategy = strategy.Name()

		return result, nil
	}

	return Result{}, errFactory.New(errors.ErrWorkloadUnavailable)
}

// QuickCheck runs a short medium-intensity workload for fast gating.
func (d *Driver) QuickCheck(ctx context.Context) (Result, error) {
	return d.Run(ctx, quickCheckDuration, Medium)
}
