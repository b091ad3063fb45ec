package gate_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/gate"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"codeberg.org/mutker/nvtuner/internal/sysevents"
	"codeberg.org/mutker/nvtuner/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	results    []workload.Result
	calls      int
	quick      *workload.Result
	quickCalls int
}

func (r *stubRunner) Run(_ context.Context, duration time.Duration, _ workload.Intensity) (workload.Result, error) {
	res := workload.Result{Completed: true, Duration: duration, AvgFPS: 120, FrameTimeStdDev: 1.5}
	if r.calls < len(r.results) {
		res = r.results[r.calls]
	}
	r.calls++
	return res, nil
}

func (r *stubRunner) QuickCheck(_ context.Context) (workload.Result, error) {
	r.quickCalls++
	if r.quick != nil {
		return *r.quick, nil
	}
	return workload.Result{Completed: true, AvgFPS: 120}, nil
}

type stubSource struct {
	samples []device.Sample
}

func (s *stubSource) Latest() (device.Sample, bool) {
	if len(s.samples) == 0 {
		return device.Sample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

func (s *stubSource) History(_ time.Duration) []device.Sample {
	return s.samples
}

func steadySamples(n int, temp device.Celsius) []device.Sample {
	samples := make([]device.Sample, n)
	for i := range samples {
		samples[i] = device.Sample{Timestamp: time.Now(), Temperature: temp, CoreClock: 1800}
	}
	return samples
}

func testConfig() gate.Config {
	return gate.Config{
		HeavyDuration:     50 * time.Millisecond,
		RealisticDuration: 50 * time.Millisecond,
	}
}

func candidate() profile.Config {
	return profile.New("candidate", 100, 500, 320)
}

func TestGatePassesCleanConfiguration(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{}
	source := &stubSource{samples: steadySamples(60, 70)}

	g := gate.New(fake, runner, source, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Empty(t, result.FailedLayer)
	assert.Equal(t, 1, runner.quickCalls, "the health layer must run the quick check")
	assert.Equal(t, 2, runner.calls, "both workload layers must run")
}

func TestGateFailsHealthCheckOnQuickCheckCrash(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{quick: &workload.Result{Crashed: true}}

	g := gate.New(fake, runner, &stubSource{}, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "health_check", result.FailedLayer)
	assert.Equal(t, 1, result.Flags.CrashCount)
	assert.Zero(t, runner.calls, "stress layers must be short-circuited")
}

func TestGateFailsHealthCheckWhenHot(t *testing.T) {
	fake := device.NewFake()
	fake.TelemetryFunc = func() (device.Sample, error) {
		return device.Sample{Timestamp: time.Now(), Temperature: 92}, nil
	}
	runner := &stubRunner{}

	g := gate.New(fake, runner, &stubSource{}, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "health_check", result.FailedLayer)
	assert.Zero(t, runner.calls, "later layers must be short-circuited")
	assert.Zero(t, runner.quickCalls, "a hot device must not be loaded further")
}

func TestGateFailsHeavyStressOnCrash(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{results: []workload.Result{{Crashed: true}}}
	source := &stubSource{samples: steadySamples(10, 70)}

	g := gate.New(fake, runner, source, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "heavy_stress", result.FailedLayer)
	assert.Equal(t, 1, result.Flags.CrashCount)
	assert.Equal(t, 1, runner.calls)
}

func TestGateFailsHeavyStressOnThrottle(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{}
	samples := steadySamples(10, 80)
	samples[5].Throttle = device.ThrottleThermal

	g := gate.New(fake, runner, &stubSource{samples: samples}, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "heavy_stress", result.FailedLayer)
	assert.True(t, result.Flags.ThermalThrottle)
}

func TestGateFailsRealisticWorkloadOnJitter(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{results: []workload.Result{
		{Completed: true, AvgFPS: 120, FrameTimeStdDev: 1.0},
		{Completed: true, AvgFPS: 95, FrameTimeStdDev: 25.0},
	}}
	source := &stubSource{samples: steadySamples(10, 70)}

	g := gate.New(fake, runner, source, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "realistic_workload", result.FailedLayer)
	assert.True(t, result.Flags.PerformanceRegression)
}

func TestGateFailsTrendOnClockDropRatio(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{}
	samples := steadySamples(20, 70)
	// Alternate high and low clocks: half the samples are >200 MHz drops.
	for i := 1; i < len(samples); i += 2 {
		samples[i].CoreClock = 1400
	}

	g := gate.New(fake, runner, &stubSource{samples: samples}, sysevents.NewFake(), nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "telemetry_trend", result.FailedLayer)
}

func TestGateFailsDriverStabilityOnReset(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{}
	sysMon := sysevents.NewFake()
	sysMon.SetDriverReset(true)

	g := gate.New(fake, runner, &stubSource{samples: steadySamples(10, 70)}, sysMon, nil, testConfig())
	result, err := g.Validate(context.Background(), candidate())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, "driver_stability", result.FailedLayer)
	assert.True(t, result.Flags.DriverReset)
}

func TestGateRejectsOutOfRangeCandidate(t *testing.T) {
	fake := device.NewFake()
	g := gate.New(fake, &stubRunner{}, &stubSource{}, sysevents.NewFake(), nil, testConfig())

	_, err := g.Validate(context.Background(), profile.New("wild", 10000, 0, 300))
	require.Error(t, err)
}
