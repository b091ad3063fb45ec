package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

const defaultDirPerm = 0o755

// NewRepository opens a sqlite-backed profile store at cfg.DBPath,
// creating the file and schema as needed.
func NewRepository(cfg Config) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug().Msgf("Initializing profile store at: %s", cfg.DBPath)

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

	return &sqliteStore{db: db}, nil
}

type sqliteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            label TEXT,
            core_offset INTEGER,
            memory_offset INTEGER,
            power_limit INTEGER,
            score REAL,
            known_good INTEGER DEFAULT 0,
            created_at INTEGER
        )
    `)

	return err
}

func (s *sqliteStore) Persist(ctx context.Context, cfg profile.Config, score float64) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles (
            id, label, core_offset, memory_offset, power_limit, score, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            label = excluded.label,
            core_offset = excluded.core_offset,
            memory_offset = excluded.memory_offset,
            power_limit = excluded.power_limit,
            score = excluded.score
    `,
		cfg.ID.String(),
		cfg.Label,
		int(cfg.CoreOffset),
		int(cfg.MemoryOffset),
		int(cfg.PowerLimit),
		score,
		cfg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (s *sqliteStore) KnownGood(ctx context.Context) (profile.Config, error) {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
        SELECT id, label, core_offset, memory_offset, power_limit, created_at
        FROM profiles WHERE known_good = 1
    `)

	var (
		id            string
		label         string
		core, mem     int
		power         int
		createdAtNano int64
	)
	if err := row.Scan(&id, &label, &core, &mem, &power, &createdAtNano); err != nil {
		if err == sql.ErrNoRows {
			return profile.Config{}, errFactory.New(ErrNotFound)
		}
		return profile.Config{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return profile.Config{}, errFactory.Wrap(ErrStorageAccess, err)
	}

	return profile.Config{
		ID:           parsed,
		Label:        label,
		CoreOffset:   device.MHz(core),
		MemoryOffset: device.MHz(mem),
		PowerLimit:   device.Watts(power),
		CreatedAt:    time.Unix(0, createdAtNano),
	}, nil
}

func (s *sqliteStore) MarkKnownGood(ctx context.Context, id uuid.UUID) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET known_good = 0 WHERE known_good = 1`); err != nil {
		tx.Rollback()
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET known_good = 1 WHERE id = ?`, id.String())
	if err != nil {
		tx.Rollback()
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		tx.Rollback()
		return errFactory.New(ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (s *sqliteStore) Close() error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}
