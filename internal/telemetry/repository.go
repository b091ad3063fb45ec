package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// Collector archives telemetry samples for post-run analysis.
type Collector interface {
	Record(ctx context.Context, sample device.Sample) error
	Close() error
}

// Config configures the sample archive.
type Config struct {
	DBPath  string
	Enabled bool
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}

// NewCollector returns a sqlite-backed archive, or a no-op collector
// when archiving is disabled.
func NewCollector(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry archiving disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	logger.Debug().Msgf("Initializing telemetry archive at: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteCollector{db: db}, nil
}

type sqliteCollector struct {
	db *sql.DB
	mu sync.Mutex
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS samples (
            timestamp INTEGER PRIMARY KEY,
            core_clock INTEGER,
            memory_clock INTEGER,
            power_draw INTEGER,
            temperature INTEGER,
            fan_speed INTEGER,
            utilization INTEGER,
            throttle_flags INTEGER
        )
    `)

	return err
}

func (c *sqliteCollector) Record(ctx context.Context, sample device.Sample) error {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
        INSERT INTO samples (
            timestamp, core_clock, memory_clock, power_draw,
            temperature, fan_speed, utilization, throttle_flags
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            core_clock = excluded.core_clock,
            memory_clock = excluded.memory_clock,
            power_draw = excluded.power_draw,
            temperature = excluded.temperature,
            fan_speed = excluded.fan_speed,
            utilization = excluded.utilization,
            throttle_flags = excluded.throttle_flags
    `,
		sample.Timestamp.UnixNano(),
		int(sample.CoreClock),
		int(sample.MemoryClock),
		int(sample.PowerDraw),
		int(sample.Temperature),
		sample.FanSpeed,
		sample.Utilization,
		int(sample.Throttle),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (c *sqliteCollector) Close() error {
	errFactory := errors.New()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

type noopCollector struct{}

func (*noopCollector) Record(_ context.Context, _ device.Sample) error { return nil }

func (*noopCollector) Close() error { return nil }
