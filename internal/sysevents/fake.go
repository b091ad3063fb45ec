package sysevents

import (
	"context"
	"sync"
	"time"
)

// Fake is a deterministic Monitor for tests.
type Fake struct {
	mu sync.Mutex

	DriverReset bool
	Crashes     []CrashEvent
	QueryErr    error
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Start(_ context.Context, _ time.Duration) error { return nil }

func (f *Fake) Stop() {}

func (f *Fake) DriverResetSince(_ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.DriverReset, f.QueryErr
}

func (f *Fake) ApplicationCrashesSince(_ time.Duration) ([]CrashEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Crashes, f.QueryErr
}

// SetDriverReset updates the scripted driver-reset flag.
func (f *Fake) SetDriverReset(reset bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DriverReset = reset
}
