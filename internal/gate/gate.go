package gate

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"codeberg.org/mutker/nvtuner/internal/sysevents"
	"codeberg.org/mutker/nvtuner/internal/workload"
)

const (
	defaultHeavyDuration     = 30 * time.Second
	defaultRealisticDuration = 20 * time.Second
	defaultTrendWindow       = 60 * time.Second
	defaultEventWindow       = 5 * time.Minute

	defaultFrameTimeStdDevLimit = 8.0 // milliseconds
	defaultHealthTempLimit      = 90
	defaultTrendTempLimit       = 95
	defaultClockDropRatioLimit  = 0.05

	clockDropThreshold = 200 // MHz
)

// Flags are the typed failure categories a gate run can raise.
type Flags struct {
	DriverReset           bool
	Artifacting           bool
	CrashCount            int
	ThermalThrottle       bool
	PowerThrottle         bool
	PerformanceRegression bool
}

// Result is the outcome of a full gate run.
type Result struct {
	Passed      bool
	FailedLayer string
	Flags       Flags
	Issues      []string
}

// Runner is the workload surface the gate drives: timed runs for the
// stress layers and the short fixed check for layer one.
type Runner interface {
	Run(ctx context.Context, duration time.Duration, intensity workload.Intensity) (workload.Result, error)
	QuickCheck(ctx context.Context) (workload.Result, error)
}

// TelemetrySource provides the trailing sample history the trend
// layer analyzes.
type TelemetrySource interface {
	Latest() (device.Sample, bool)
	History(window time.Duration) []device.Sample
}

// Config tunes layer durations and thresholds. Zero values select the
// production defaults.
type Config struct {
	HeavyDuration        time.Duration
	RealisticDuration    time.Duration
	TrendWindow          time.Duration
	EventWindow          time.Duration
	FrameTimeStdDevLimit float64
	HealthTempLimit      device.Celsius
	TrendTempLimit       device.Celsius
	ClockDropRatioLimit  float64
}

func (c *Config) applyDefaults() {
	if c.HeavyDuration == 0 {
		c.HeavyDuration = defaultHeavyDuration
	}
	if c.RealisticDuration == 0 {
		c.RealisticDuration = defaultRealisticDuration
	}
	if c.TrendWindow == 0 {
		c.TrendWindow = defaultTrendWindow
	}
	if c.EventWindow == 0 {
		c.EventWindow = defaultEventWindow
	}
	if c.FrameTimeStdDevLimit == 0 {
		c.FrameTimeStdDevLimit = defaultFrameTimeStdDevLimit
	}
	if c.HealthTempLimit == 0 {
		c.HealthTempLimit = defaultHealthTempLimit
	}
	if c.TrendTempLimit == 0 {
		c.TrendTempLimit = defaultTrendTempLimit
	}
	if c.ClockDropRatioLimit == 0 {
		c.ClockDropRatioLimit = defaultClockDropRatioLimit
	}
}

// Gate is the strict, single-use acceptance pipeline run once before a
// configuration is persisted as known-good. Five layers run in order;
// the first failure short-circuits the rest.
type Gate struct {
	ctrl      device.Controller
	runner    Runner
	source    TelemetrySource
	sysMon    sysevents.Monitor
	publisher events.Publisher
	cfg       Config
}

func New(ctrl device.Controller, runner Runner, source TelemetrySource, sysMon sysevents.Monitor, publisher events.Publisher, cfg Config) *Gate {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Gate{
		ctrl:      ctrl,
		runner:    runner,
		source:    source,
		sysMon:    sysMon,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Validate runs the acceptance pipeline against the given
// configuration. The configuration is applied before layer one.
func (g *Gate) Validate(ctx context.Context, cfg profile.Config) (Result, error) {
	result := Result{}

	if err := profile.Apply(g.ctrl, cfg); err != nil {
		return result, err
	}

	layers := []struct {
		name string
		run  func(context.Context, *Result) bool
	}{
		{"health_check", g.healthCheck},
		{"heavy_stress", g.heavyStress},
		{"realistic_workload", g.realisticWorkload},
		{"telemetry_trend", g.telemetryTrend},
		{"driver_stability", g.driverStability},
	}

	result.Passed = true
	for i, layer := range layers {
		logger.Debug().Msgf("Stability gate layer %d/%d: %s", i+1, len(layers), layer.name)
		if !layer.run(ctx, &result) {
			result.Passed = false
			result.FailedLayer = layer.name
			break
		}
	}

	ev := events.New(events.StabilityResult)
	ev.Passed = result.Passed
	if result.Passed {
		ev.Message = fmt.Sprintf("configuration %s cleared the stability gate", cfg.Label)
	} else {
		ev.Message = fmt.Sprintf("configuration %s rejected at layer %s", cfg.Label, result.FailedLayer)
	}
	g.publisher.Publish(ev)

	return result, nil
}

// Layer 1: the device responds, is not already running hot, and
// survives a short workload check.
func (g *Gate) healthCheck(ctx context.Context, r *Result) bool {
	if !g.ctrl.IsHealthy() {
		r.Issues = append(r.Issues, "device is not responding")
		return false
	}

	sample, err := g.ctrl.Telemetry()
	if err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("health telemetry query failed: %v", err))
		return false
	}
	if sample.Temperature >= g.cfg.HealthTempLimit {
		r.Issues = append(r.Issues, fmt.Sprintf("temperature %d°C too high to start validation", sample.Temperature))
		return false
	}

	res, err := g.runner.QuickCheck(ctx)
	if err != nil || res.Crashed || !res.Completed {
		r.Flags.CrashCount++
		r.Issues = append(r.Issues, "quick workload check failed")
		return false
	}

	return true
}

// Layer 2: heavy synthetic stress; any crash, incomplete run or
// throttle fails.
func (g *Gate) heavyStress(ctx context.Context, r *Result) bool {
	res, err := g.runner.Run(ctx, g.cfg.HeavyDuration, workload.Heavy)
	if err != nil || res.Crashed || !res.Completed {
		r.Flags.CrashCount++
		r.Issues = append(r.Issues, "heavy stress workload crashed or did not complete")
		return false
	}

	for _, sample := range g.source.History(g.cfg.HeavyDuration) {
		if sample.Throttle.Has(device.ThrottleThermal) {
			r.Flags.ThermalThrottle = true
		}
		if sample.Throttle.Has(device.ThrottlePower) {
			r.Flags.PowerThrottle = true
		}
	}
	if r.Flags.ThermalThrottle || r.Flags.PowerThrottle {
		r.Issues = append(r.Issues, "throttling during heavy synthetic stress")
		return false
	}

	return true
}

// Layer 3: a realistic workload must hold steady frame times.
func (g *Gate) realisticWorkload(ctx context.Context, r *Result) bool {
	res, err := g.runner.Run(ctx, g.cfg.RealisticDuration, workload.Medium)
	if err != nil || res.Crashed {
		r.Flags.CrashCount++
		r.Issues = append(r.Issues, "realistic workload crashed")
		return false
	}
	if res.FrameTimeStdDev > g.cfg.FrameTimeStdDevLimit {
		r.Flags.PerformanceRegression = true
		r.Issues = append(r.Issues, fmt.Sprintf("frame-time deviation %.1fms exceeds %.1fms", res.FrameTimeStdDev, g.cfg.FrameTimeStdDevLimit))
		return false
	}

	return true
}

// Layer 4: trend analysis over the trailing telemetry window. Power
// spikes are logged but not failing.
func (g *Gate) telemetryTrend(_ context.Context, r *Result) bool {
	samples := g.source.History(g.cfg.TrendWindow)
	if len(samples) == 0 {
		return true
	}

	drops := 0
	var maxTemp device.Celsius
	var maxPower device.Watts
	for i, sample := range samples {
		if sample.Temperature > maxTemp {
			maxTemp = sample.Temperature
		}
		if sample.PowerDraw > maxPower {
			maxPower = sample.PowerDraw
		}
		if i > 0 && samples[i-1].CoreClock-sample.CoreClock > clockDropThreshold {
			drops++
		}
	}

	if maxTemp > g.cfg.TrendTempLimit {
		r.Issues = append(r.Issues, fmt.Sprintf("peak temperature %d°C in trend window", maxTemp))
		return false
	}

	ratio := float64(drops) / float64(len(samples))
	if ratio > g.cfg.ClockDropRatioLimit {
		r.Issues = append(r.Issues, fmt.Sprintf("clock drops in %.0f%% of samples", ratio*100))
		return false
	}

	logger.Debug().
		Int("peak_power", int(maxPower)).
		Int("peak_temperature", int(maxTemp)).
		Int("clock_drops", drops).
		Msg("Telemetry trend analysis")

	return true
}

// Layer 5: no driver resets or crashes in the trailing window, and the
// device still responds.
func (g *Gate) driverStability(_ context.Context, r *Result) bool {
	if reset, err := g.sysMon.DriverResetSince(g.cfg.EventWindow); err != nil {
		logger.Warn().AnErr("error", err).Msg("Driver reset check failed")
	} else if reset {
		r.Flags.DriverReset = true
		r.Issues = append(r.Issues, "driver reset in trailing window")
		return false
	}

	if crashes, err := g.sysMon.ApplicationCrashesSince(g.cfg.EventWindow); err != nil {
		logger.Warn().AnErr("error", err).Msg("Crash check failed")
	} else if len(crashes) > 0 {
		r.Flags.CrashCount += len(crashes)
		r.Issues = append(r.Issues, fmt.Sprintf("%d application crashes in trailing window", len(crashes)))
		return false
	}

	if !g.ctrl.IsHealthy() {
		r.Issues = append(r.Issues, "device stopped responding after validation")
		return false
	}

	return true
}
