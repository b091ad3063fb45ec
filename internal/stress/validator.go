package stress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/sysevents"
	"codeberg.org/mutker/nvtuner/internal/telemetry"
	"codeberg.org/mutker/nvtuner/internal/workload"
)

const (
	defaultSampleInterval = time.Second
	defaultCriticalTemp   = 95

	quickDuration   = 60 * time.Second
	clockDropWindow = 200 // MHz drop between consecutive samples

	// A completed run whose frame times scatter this widely (ms) is
	// treated as a rendering anomaly.
	artifactJitterThreshold = 50.0
)

// Runner abstracts the workload driver for testing.
type Runner interface {
	Run(ctx context.Context, duration time.Duration, intensity workload.Intensity) (workload.Result, error)
}

// TestSpec parameterizes one stress test.
type TestSpec struct {
	Duration             time.Duration
	Intensity            workload.Intensity
	MaxTemperature       device.Celsius
	MaxPowerDraw         device.Watts // 0 means no limit
	TargetUtilization    int
	AllowThermalThrottle bool
}

// Result is the outcome of a monitored stress test.
type Result struct {
	Passed            bool
	Crashed           bool
	ArtifactsDetected bool

	AvgTemperature float64
	MaxTemperature device.Celsius
	AvgPower       float64
	MaxPower       device.Watts
	AvgUtilization float64
	AvgCoreClock   float64
	AvgMemoryClock float64

	ThrottleEvents  int
	ClockDropEvents int
	DriverResets    int

	Score  float64
	Issues []string
}

// Config tunes the validator itself, not an individual test.
type Config struct {
	SampleInterval      time.Duration
	CriticalTemperature device.Celsius
	MaxTemperature      device.Celsius
}

// Validator runs a workload and a monitoring loop concurrently against
// a candidate configuration and scores the outcome. It is the cheap,
// repeated, per-candidate check used inside the search loop; the strict
// final acceptance check lives in the gate package.
type Validator struct {
	ctrl      device.Controller
	runner    Runner
	sysMon    sysevents.Monitor
	publisher events.Publisher
	cfg       Config
}

func NewValidator(ctrl device.Controller, runner Runner, sysMon sysevents.Monitor, publisher events.Publisher, cfg Config) *Validator {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.CriticalTemperature == 0 {
		cfg.CriticalTemperature = defaultCriticalTemp
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Validator{
		ctrl:      ctrl,
		runner:    runner,
		sysMon:    sysMon,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run executes a stress test: the workload and a fixed-cadence
// monitoring loop run side by side for the requested duration, both
// are joined, and only then are aggregate statistics computed from the
// complete sample set.
func (v *Validator) Run(ctx context.Context, spec TestSpec) (Result, error) {
	errFactory := errors.New()

	if spec.Duration <= 0 {
		return Result{}, errFactory.WithData(errors.ErrInvalidArgument, "stress duration must be positive")
	}
	if spec.MaxTemperature == 0 {
		spec.MaxTemperature = v.cfg.MaxTemperature
	}

	start := time.Now()
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		wg           sync.WaitGroup
		workloadRes  workload.Result
		workloadErr  error
		samples      []device.Sample
		issues       []string
		throttles    int
		clockDrops   int
		powerHits    int
		criticalStop bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		workloadRes, workloadErr = v.runner.Run(runCtx, spec.Duration, spec.Intensity)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(v.cfg.SampleInterval)
		defer ticker.Stop()
		deadline := start.Add(spec.Duration)

		var prev *device.Sample
		for time.Now().Before(deadline) {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}

			sample, err := v.ctrl.Telemetry()
			if err != nil {
				// Queries fail transiently under load; keep monitoring.
				logger.Debug().AnErr("error", err).Msg("Telemetry query failed during stress test")
				continue
			}
			samples = append(samples, sample)

			e := events.New(events.StressProgress)
			e.Elapsed = time.Since(start)
			e.TotalDuration = spec.Duration
			e.Sample = sample
			v.publisher.Publish(e)

			if sample.Temperature > spec.MaxTemperature {
				issues = append(issues, fmt.Sprintf("temperature %d°C exceeded limit %d°C", sample.Temperature, spec.MaxTemperature))
			}
			if sample.Temperature > v.cfg.CriticalTemperature {
				// Emergency stop: terminate the workload immediately,
				// regardless of remaining duration.
				criticalStop = true
				issues = append(issues, fmt.Sprintf("critical temperature %d°C, emergency stop", sample.Temperature))
				ev := events.New(events.CriticalTemperature)
				ev.Sample = sample
				v.publisher.Publish(ev)
				cancelRun()
				return
			}
			if sample.Throttle.Any() {
				throttles++
			}
			if prev != nil && prev.CoreClock-sample.CoreClock > clockDropWindow {
				clockDrops++
			}
			if spec.MaxPowerDraw > 0 && sample.PowerDraw > spec.MaxPowerDraw {
				powerHits++
				logger.Warn().
					Int("power", int(sample.PowerDraw)).
					Int("limit", int(spec.MaxPowerDraw)).
					Msg("Power draw over limit during stress test")
			}
			prev = &samples[len(samples)-1]
		}
	}()

	// Join both tasks before touching the sample set; partial-history
	// reads are not permitted.
	wg.Wait()

	result := Result{
		ThrottleEvents:  throttles,
		ClockDropEvents: clockDrops,
		Issues:          issues,
	}

	avg := telemetry.Aggregate(samples)
	result.AvgTemperature = avg.Temperature
	result.MaxTemperature = avg.MaxTemperature
	result.AvgPower = avg.Power
	result.MaxPower = avg.MaxPower
	result.AvgUtilization = avg.Utilization
	result.AvgCoreClock = avg.CoreClock
	result.AvgMemoryClock = avg.MemoryClock

	if workloadErr != nil && !errors.Is(workloadErr, context.Canceled) && !errors.Is(workloadErr, context.DeadlineExceeded) {
		return result, workloadErr
	}
	result.Crashed = workloadRes.Crashed
	if result.Crashed {
		result.Issues = append(result.Issues, "workload crashed")
	}
	if workloadRes.Completed && workloadRes.FrameTimeStdDev > artifactJitterThreshold {
		result.ArtifactsDetected = true
		result.Issues = append(result.Issues, "rendering anomalies detected")
	}

	// One driver-reset check covering the whole test window.
	if v.sysMon != nil {
		window := time.Since(start) + time.Minute
		if reset, err := v.sysMon.DriverResetSince(window); err != nil {
			logger.Warn().AnErr("error", err).Msg("Driver reset check failed")
		} else if reset {
			result.DriverResets = 1
			result.Issues = append(result.Issues, "driver reset detected during test window")
		}
	}

	result.Score = score(result)
	result.Passed = passed(result, spec, criticalStop, powerHits)

	ev := events.New(events.StabilityResult)
	ev.Passed = result.Passed
	ev.Score = result.Score
	ev.Message = fmt.Sprintf("stress test finished in %s", time.Since(start).Round(time.Second))
	v.publisher.Publish(ev)

	return result, nil
}

// RunQuick is the fixed-parameter confirmation check: a medium run at
// the standard quick duration against the configured limits.
func (v *Validator) RunQuick(ctx context.Context) (Result, error) {
	return v.Run(ctx, v.quickSpec())
}

func (v *Validator) quickSpec() TestSpec {
	return TestSpec{
		Duration:       quickDuration,
		Intensity:      workload.Medium,
		MaxTemperature: v.cfg.MaxTemperature,
	}
}

// RunExtreme is the fixed-parameter final-validation check.
func (v *Validator) RunExtreme(ctx context.Context, duration time.Duration) (Result, error) {
	return v.Run(ctx, TestSpec{
		Duration:       duration,
		Intensity:      workload.Extreme,
		MaxTemperature: v.cfg.MaxTemperature,
	})
}

func passed(r Result, spec TestSpec, criticalStop bool, powerHits int) bool {
	if r.Crashed || criticalStop {
		return false
	}
	if r.MaxTemperature > spec.MaxTemperature {
		return false
	}
	if spec.MaxPowerDraw > 0 && powerHits > 0 {
		return false
	}
	if !spec.AllowThermalThrottle && r.ThrottleEvents > 0 {
		return false
	}

	return true
}
