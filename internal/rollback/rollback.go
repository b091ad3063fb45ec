package rollback

import (
	"sync"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/profile"
)

// Controller owns the single known-good configuration and can reapply
// it on demand. The known-good reference is set at startup from the
// stock configuration, is never deleted, and is replaced only after a
// candidate clears the stability gate.
type Controller struct {
	ctrl device.Controller

	mu        sync.Mutex
	knownGood profile.Config
}

func NewController(ctrl device.Controller, initial profile.Config) *Controller {
	return &Controller{ctrl: ctrl, knownGood: initial}
}

// SetKnownGood replaces the known-good configuration.
func (c *Controller) SetKnownGood(cfg profile.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Info().Msgf("Known-good configuration updated: %s", cfg)
	c.knownGood = cfg
}

// KnownGood returns the current known-good configuration.
func (c *Controller) KnownGood() profile.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.knownGood
}

// Rollback reapplies the known-good configuration. A failure here
// means the device may be in an unknown state; it is escalated as
// rollback_failed and must terminate the run, not be retried.
func (c *Controller) Rollback() error {
	errFactory := errors.New()

	c.mu.Lock()
	cfg := c.knownGood
	c.mu.Unlock()

	logger.Warn().Msgf("Rolling back to known-good configuration: %s", cfg)

	if err := profile.Apply(c.ctrl, cfg); err != nil {
		return errFactory.Wrap(errors.ErrRollbackFailed, err)
	}

	return nil
}
