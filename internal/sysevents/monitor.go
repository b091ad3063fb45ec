package sysevents

import (
	"context"
	"time"
)

// CrashEvent describes an application crash observed in the system log.
type CrashEvent struct {
	Timestamp time.Time
	Process   string
	Detail    string
}

// Monitor observes platform-level driver and application failures that
// do not surface through the device control interface. Implementations
// must stay read-only: they observe, they never mutate device state.
type Monitor interface {
	Start(ctx context.Context, pollInterval time.Duration) error
	Stop()
	DriverResetSince(window time.Duration) (bool, error)
	ApplicationCrashesSince(window time.Duration) ([]CrashEvent, error)
}
