package telemetry

import (
	"testing"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(clock device.MHz, ts time.Time) device.Sample {
	return device.Sample{Timestamp: ts, CoreClock: clock}
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	r := newRing(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		r.push(sampleAt(device.MHz(i), now.Add(time.Duration(i)*time.Second)))
		assert.LessOrEqual(t, r.len(), 3, "ring must never exceed its capacity")
	}

	snap := r.snapshot()
	require.Len(t, snap, 3)
	// Pushing 0..4 into a 3-slot ring leaves exactly 2,3,4 oldest first.
	assert.Equal(t, device.MHz(2), snap[0].CoreClock)
	assert.Equal(t, device.MHz(3), snap[1].CoreClock)
	assert.Equal(t, device.MHz(4), snap[2].CoreClock)

	latest, ok := r.latest()
	require.True(t, ok)
	assert.Equal(t, device.MHz(4), latest.CoreClock)
}

func TestRingWindow(t *testing.T) {
	r := newRing(10)
	now := time.Now()

	r.push(sampleAt(1, now.Add(-2*time.Minute)))
	r.push(sampleAt(2, now.Add(-30*time.Second)))
	r.push(sampleAt(3, now.Add(-5*time.Second)))

	recent := r.window(time.Minute)
	require.Len(t, recent, 2)
	assert.Equal(t, device.MHz(2), recent[0].CoreClock)
	assert.Equal(t, device.MHz(3), recent[1].CoreClock)
}

func TestRingClear(t *testing.T) {
	r := newRing(2)
	r.push(sampleAt(1, time.Now()))
	r.clear()

	assert.Zero(t, r.len())
	_, ok := r.latest()
	assert.False(t, ok)
}

func TestAggregate(t *testing.T) {
	now := time.Now()
	samples := []device.Sample{
		{Timestamp: now, Temperature: 60, PowerDraw: 200, CoreClock: 1800, MemoryClock: 7000, Utilization: 90},
		{Timestamp: now, Temperature: 70, PowerDraw: 240, CoreClock: 1900, MemoryClock: 7100, Utilization: 100},
	}

	avg := Aggregate(samples)
	assert.Equal(t, 2, avg.Samples)
	assert.InDelta(t, 65.0, avg.Temperature, 0.001)
	assert.Equal(t, device.Celsius(70), avg.MaxTemperature)
	assert.InDelta(t, 220.0, avg.Power, 0.001)
	assert.Equal(t, device.Watts(240), avg.MaxPower)
	assert.InDelta(t, 1850.0, avg.CoreClock, 0.001)
	assert.InDelta(t, 95.0, avg.Utilization, 0.001)

	assert.Zero(t, Aggregate(nil).Samples)
}
