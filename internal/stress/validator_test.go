package stress_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/stress"
	"codeberg.org/mutker/nvtuner/internal/sysevents"
	"codeberg.org/mutker/nvtuner/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result   workload.Result
	canceled atomic.Bool
}

func (r *stubRunner) Run(ctx context.Context, duration time.Duration, _ workload.Intensity) (workload.Result, error) {
	select {
	case <-ctx.Done():
		r.canceled.Store(true)
		return r.result, ctx.Err()
	case <-time.After(duration):
		res := r.result
		res.Completed = true
		res.Duration = duration
		return res, nil
	}
}

type recordingRunner struct {
	duration  time.Duration
	intensity workload.Intensity
}

func (r *recordingRunner) Run(_ context.Context, duration time.Duration, intensity workload.Intensity) (workload.Result, error) {
	r.duration = duration
	r.intensity = intensity
	return workload.Result{Completed: true, Duration: duration}, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig() stress.Config {
	return stress.Config{
		SampleInterval:      20 * time.Millisecond,
		CriticalTemperature: 95,
		MaxTemperature:      83,
	}
}

func TestCleanRunPasses(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{}
	pub := &capturingPublisher{}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), pub, testConfig())
	result, err := v.Run(context.Background(), stress.TestSpec{
		Duration:       300 * time.Millisecond,
		Intensity:      workload.Medium,
		MaxTemperature: 83,
	})
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.False(t, result.Crashed)
	assert.InDelta(t, 100.0, result.Score, 0.001)
	assert.Greater(t, pub.count(events.StressProgress), 0)
	assert.Equal(t, 1, pub.count(events.StabilityResult))
}

func TestRunQuickParameters(t *testing.T) {
	fake := device.NewFake()
	runner := &recordingRunner{}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), nil, testConfig())

	// The workload stub returns immediately; cut the monitoring loop
	// short so the test does not wait out the full quick duration.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := v.RunQuick(ctx)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, runner.duration)
	assert.Equal(t, workload.Medium, runner.intensity)
	assert.False(t, result.Crashed)
}

func TestCriticalTemperatureAbortsWithinOneInterval(t *testing.T) {
	fake := device.NewFake()
	fake.TelemetryFunc = func() (device.Sample, error) {
		return device.Sample{Timestamp: time.Now(), Temperature: 99, CoreClock: 1800}, nil
	}
	runner := &stubRunner{}
	pub := &capturingPublisher{}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), pub, testConfig())

	start := time.Now()
	result, err := v.Run(context.Background(), stress.TestSpec{
		Duration:       10 * time.Second,
		Intensity:      workload.Heavy,
		MaxTemperature: 83,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second, "emergency stop must terminate within one sampling interval")
	assert.False(t, result.Passed)
	assert.True(t, runner.canceled.Load(), "workload must be terminated on critical temperature")
	assert.Equal(t, 1, pub.count(events.CriticalTemperature))

	foundCritical := false
	for _, issue := range result.Issues {
		if strings.Contains(issue, "critical") {
			foundCritical = true
		}
	}
	assert.True(t, foundCritical, "critical-temperature issue must be recorded: %v", result.Issues)
}

func TestClockDropCountedExactlyOnce(t *testing.T) {
	fake := device.NewFake()
	var calls atomic.Int64
	fake.TelemetryFunc = func() (device.Sample, error) {
		clock := device.MHz(1800)
		if calls.Add(1) > 4 {
			clock = 1550 // one 250 MHz drop, then steady
		}
		return device.Sample{Timestamp: time.Now(), Temperature: 70, CoreClock: clock}, nil
	}
	runner := &stubRunner{}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), nil, testConfig())
	result, err := v.Run(context.Background(), stress.TestSpec{
		Duration:       400 * time.Millisecond,
		Intensity:      workload.Medium,
		MaxTemperature: 83,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ClockDropEvents, "a single >200 MHz drop must count exactly once")
	assert.InDelta(t, 99.0, result.Score, 0.001)
}

func TestThrottleEventsFailUnlessAllowed(t *testing.T) {
	fake := device.NewFake()
	fake.TelemetryFunc = func() (device.Sample, error) {
		return device.Sample{
			Timestamp:   time.Now(),
			Temperature: 75,
			CoreClock:   1800,
			Throttle:    device.ThrottleThermal,
		}, nil
	}
	runner := &stubRunner{}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), nil, testConfig())

	spec := stress.TestSpec{
		Duration:       200 * time.Millisecond,
		Intensity:      workload.Medium,
		MaxTemperature: 83,
	}
	result, err := v.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, result.Passed, "throttling must fail the test by default")
	assert.Greater(t, result.ThrottleEvents, 0)

	spec.AllowThermalThrottle = true
	result, err = v.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, result.Passed, "throttling is tolerated when explicitly allowed")
}

func TestDriverResetDetected(t *testing.T) {
	fake := device.NewFake()
	sysMon := sysevents.NewFake()
	sysMon.SetDriverReset(true)
	runner := &stubRunner{}

	v := stress.NewValidator(fake, runner, sysMon, nil, testConfig())
	result, err := v.Run(context.Background(), stress.TestSpec{
		Duration:       200 * time.Millisecond,
		Intensity:      workload.Medium,
		MaxTemperature: 83,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DriverResets)
	assert.LessOrEqual(t, result.Score, 50.0)
}

func TestCrashedWorkloadFails(t *testing.T) {
	fake := device.NewFake()
	runner := &stubRunner{result: workload.Result{Crashed: true}}

	v := stress.NewValidator(fake, runner, sysevents.NewFake(), nil, testConfig())
	result, err := v.Run(context.Background(), stress.TestSpec{
		Duration:       200 * time.Millisecond,
		Intensity:      workload.Heavy,
		MaxTemperature: 83,
	})
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.True(t, result.Crashed)
	assert.Zero(t, result.Score)
}
