package rollback_test

import (
	"testing"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"codeberg.org/mutker/nvtuner/internal/rollback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackRestoresKnownGood(t *testing.T) {
	fake := device.NewFake()
	known := profile.New("known-good", 50, 200, 280)
	rc := rollback.NewController(fake, known)

	// Drift the device away from known-good.
	require.NoError(t, fake.ApplyClockOffset(device.DomainCore, 150))
	require.NoError(t, fake.SetPowerLimit(350))

	require.NoError(t, rc.Rollback())

	core, memory, power := fake.State()
	assert.Equal(t, device.MHz(50), core)
	assert.Equal(t, device.MHz(200), memory)
	assert.Equal(t, device.Watts(280), power)
}

func TestRollbackIsIdempotent(t *testing.T) {
	fake := device.NewFake()
	rc := rollback.NewController(fake, profile.New("known-good", 25, 100, 300))

	require.NoError(t, rc.Rollback())
	core1, mem1, power1 := fake.State()

	require.NoError(t, rc.Rollback())
	core2, mem2, power2 := fake.State()

	assert.Equal(t, core1, core2)
	assert.Equal(t, mem1, mem2)
	assert.Equal(t, power1, power2)
}

func TestRollbackFailureEscalates(t *testing.T) {
	fake := device.NewFake()
	fake.ApplyOffsetErr = assert.AnError
	rc := rollback.NewController(fake, profile.New("known-good", 0, 0, 300))

	err := rc.Rollback()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrRollbackFailed))
}

func TestSetKnownGoodReplaces(t *testing.T) {
	fake := device.NewFake()
	rc := rollback.NewController(fake, profile.New("stock", 0, 0, 300))

	updated := profile.New("tuned", 100, 500, 320)
	rc.SetKnownGood(updated)

	assert.Equal(t, updated.ID, rc.KnownGood().ID)
}
