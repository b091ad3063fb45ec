package telemetry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecord(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	collector, err := telemetry.NewCollector(telemetry.Config{DBPath: dbPath, Enabled: true})
	require.NoError(t, err)
	defer collector.Close()

	sample := device.Sample{
		Timestamp:   time.Now(),
		CoreClock:   1850,
		MemoryClock: 7200,
		PowerDraw:   280,
		Temperature: 72,
		FanSpeed:    60,
		Utilization: 99,
		Throttle:    device.ThrottlePower,
	}
	require.NoError(t, collector.Record(context.Background(), sample))
	require.NoError(t, collector.Record(context.Background(), sample), "same timestamp must upsert, not fail")
}

func TestCollectorDisabled(t *testing.T) {
	collector, err := telemetry.NewCollector(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, collector.Record(context.Background(), device.Sample{}))
	require.NoError(t, collector.Close())
}

func TestCollectorInvalidConfig(t *testing.T) {
	_, err := telemetry.NewCollector(telemetry.Config{Enabled: true})
	require.Error(t, err)
}
