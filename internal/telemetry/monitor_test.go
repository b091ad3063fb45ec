package telemetry_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturingPublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func TestMonitorSamplesAndStops(t *testing.T) {
	fake := device.NewFake()
	pub := &capturingPublisher{}

	mon, err := telemetry.NewMonitor(fake, pub, telemetry.MonitorConfig{HistorySize: 16})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background(), 10*time.Millisecond))
	require.Eventually(t, func() bool { return mon.Len() >= 3 }, time.Second, 5*time.Millisecond)
	mon.Stop()

	latest, ok := mon.Latest()
	require.True(t, ok)
	assert.NotZero(t, latest.CoreClock)

	count := mon.Len()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, mon.Len(), "monitor must not sample after Stop")
}

func TestMonitorSkipsTickWhileQueryInFlight(t *testing.T) {
	fake := device.NewFake()
	fake.TelemetryDelay = 60 * time.Millisecond

	mon, err := telemetry.NewMonitor(fake, nil, telemetry.MonitorConfig{HistorySize: 64})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background(), 10*time.Millisecond))
	time.Sleep(250 * time.Millisecond)
	mon.Stop()

	// With a 60ms query and a 10ms tick, queuing would produce ~25
	// samples; the in-flight guard bounds it to roughly one per query
	// duration.
	assert.LessOrEqual(t, mon.Len(), 7, "ticks must be skipped, not queued")
	assert.GreaterOrEqual(t, mon.Len(), 2)
}

type countingArchive struct {
	mu      sync.Mutex
	records int
}

func (a *countingArchive) Record(_ context.Context, _ device.Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records++
	return nil
}

func (a *countingArchive) Close() error { return nil }

func (a *countingArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records
}

func TestStopDrainsInFlightSample(t *testing.T) {
	fake := device.NewFake()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fake.TelemetryFunc = func() (device.Sample, error) {
		// The first query primes the history synchronously; block the
		// second, which runs on the spawned sampler goroutine.
		if atomic.AddInt32(&calls, 1) == 2 {
			close(started)
			<-release
		}
		return device.Sample{Timestamp: time.Now(), CoreClock: 1800}, nil
	}
	archive := &countingArchive{}

	mon, err := telemetry.NewMonitor(fake, nil, telemetry.MonitorConfig{HistorySize: 16, Archive: archive})
	require.NoError(t, err)
	require.NoError(t, mon.Start(context.Background(), 10*time.Millisecond))

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	mon.Stop()

	stopped := archive.count()
	assert.Equal(t, 2, stopped, "the blocked sample must finish archiving before Stop returns")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, archive.count(), "no sample may be archived after Stop returns")
}

func TestMonitorThresholdNotifications(t *testing.T) {
	fake := device.NewFake()
	fake.TelemetryFunc = func() (device.Sample, error) {
		return device.Sample{
			Timestamp:   time.Now(),
			Temperature: 88,
			Throttle:    device.ThrottleThermal | device.ThrottlePower,
		}, nil
	}
	pub := &capturingPublisher{}

	mon, err := telemetry.NewMonitor(fake, pub, telemetry.MonitorConfig{HistorySize: 8, SoftTempLimit: 83})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background(), 10*time.Millisecond))
	require.Eventually(t, func() bool { return mon.Len() >= 1 }, time.Second, 5*time.Millisecond)
	mon.Stop()

	assert.NotEmpty(t, pub.byType(events.ThermalThrottle))
	assert.NotEmpty(t, pub.byType(events.PowerThrottle))
	assert.NotEmpty(t, pub.byType(events.HighTemperature))
}

func TestMonitorSurvivesQueryFailures(t *testing.T) {
	fake := device.NewFake()
	calls := 0
	var mu sync.Mutex
	fake.TelemetryFunc = func() (device.Sample, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%2 == 0 {
			return device.Sample{}, assert.AnError
		}
		return device.Sample{Timestamp: time.Now(), CoreClock: 1800}, nil
	}
	pub := &capturingPublisher{}

	mon, err := telemetry.NewMonitor(fake, pub, telemetry.MonitorConfig{HistorySize: 32})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background(), 10*time.Millisecond))
	require.Eventually(t, func() bool { return mon.Len() >= 3 }, time.Second, 5*time.Millisecond)
	mon.Stop()

	assert.NotEmpty(t, pub.byType(events.TelemetryError), "failures must surface as notifications")
	assert.GreaterOrEqual(t, mon.Len(), 3, "failures must not stop the monitor")
}

func TestMonitorDoubleStartRejected(t *testing.T) {
	fake := device.NewFake()
	mon, err := telemetry.NewMonitor(fake, nil, telemetry.MonitorConfig{HistorySize: 4})
	require.NoError(t, err)

	require.NoError(t, mon.Start(context.Background(), 50*time.Millisecond))
	defer mon.Stop()

	err = mon.Start(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
}
