package store

import (
	"context"

	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"github.com/google/uuid"
)

const (
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")
	ErrStorageInit   = errors.ErrorCode("store_init_failed")
	ErrStorageAccess = errors.ErrorCode("store_access_failed")
	ErrStorageClose  = errors.ErrorCode("store_close_failed")
	ErrNotFound      = errors.ErrorCode("store_profile_not_found")
)

// Store persists tuning configurations and the known-good marker.
type Store interface {
	// KnownGood returns the configuration currently flagged known-good.
	KnownGood(ctx context.Context) (profile.Config, error)
	// Persist saves a candidate configuration with its score.
	Persist(ctx context.Context, cfg profile.Config, score float64) error
	// MarkKnownGood flags one persisted configuration as known-good,
	// clearing any previous flag. At most one row carries the flag.
	MarkKnownGood(ctx context.Context, id uuid.UUID) error
	Close() error
}

// Config configures the profile store.
type Config struct {
	DBPath string
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}
