package workload

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
)

const syntheticSampleInterval = 500 * time.Millisecond

// syntheticStrategy is the always-available fallback. It cannot drive
// load itself; it observes whatever the device is doing through
// telemetry and derives a pseudo frame rate from utilization and clock
// stability. Better than nothing when no benchmark tool is installed.
type syntheticStrategy struct {
	ctrl device.Controller
}

func newSyntheticStrategy(ctrl device.Controller) Strategy {
	return &syntheticStrategy{ctrl: ctrl}
}

func (s *syntheticStrategy) Name() string { return "synthetic" }

func (s *syntheticStrategy) Available() bool { return true }

func (s *syntheticStrategy) Run(ctx context.Context, duration time.Duration, _ Intensity) (Result, error) {
	start := time.Now()
	deadline := start.Add(duration)

	var utilizations []float64
	var clocks []float64

	ticker := time.NewTicker(syntheticSampleInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Result{Duration: time.Since(start)}, ctx.Err()
		case <-ticker.C:
			sample, err := s.ctrl.Telemetry()
			if err != nil {
				continue
			}
			utilizations = append(utilizations, float64(sample.Utilization))
			clocks = append(clocks, float64(sample.CoreClock))
		}
	}

	result := Result{
		Completed: true,
		Duration:  time.Since(start),
	}
	if len(utilizations) > 0 {
		var sum float64
		for _, u := range utilizations {
			sum += u
		}
		result.AvgFPS = sum / float64(len(utilizations))
	}
	result.FrameTimeStdDev = relativeJitter(clocks)

	return result, nil
}

// relativeJitter approximates frame-time variance from clock stability:
// a wobbling core clock shows up as stutter.
func relativeJitter(clocks []float64) float64 {
	if len(clocks) < 2 {
		return 0
	}

	var sum float64
	for _, c := range clocks {
		sum += c
	}
	mean := sum / float64(len(clocks))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, c := range clocks {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(clocks))

	return math.Sqrt(variance) / mean * 100
}
