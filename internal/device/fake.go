package device

import (
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/errors"
)

// Fake is a deterministic in-memory Controller used by tests and by
// dry-run mode. Telemetry is synthesized from the currently applied
// configuration unless a TelemetryFunc is installed.
type Fake struct {
	mu sync.Mutex

	info Info
	caps Capabilities

	coreOffset   MHz
	memoryOffset MHz
	powerLimit   Watts

	// TelemetryFunc, when set, replaces the synthesized telemetry.
	TelemetryFunc func() (Sample, error)
	// TelemetryDelay simulates a slow device query.
	TelemetryDelay time.Duration

	// Error injection for mutating calls.
	ApplyOffsetErr   error
	SetPowerErr      error
	ResetClocksErr   error
	ResetPowerErr    error
	Healthy          bool
	OverclockSupport bool
	Privileged       bool

	calls []string
}

func NewFake() *Fake {
	return &Fake{
		info: Info{Name: "Fake GPU", UUID: "GPU-00000000-feed-face-cafe-000000000000", Driver: "999.99"},
		caps: Capabilities{
			CoreOffset:          OffsetLimits{Min: -200, Max: 300},
			MemoryOffset:        OffsetLimits{Min: -500, Max: 1500},
			Power:               PowerLimits{Min: 150, Max: 360, Default: 300},
			Fan:                 FanLimits{Min: 30, Max: 100},
			SupportsClockOffset: true,
			SupportsPowerLimit:  true,
		},
		powerLimit:       300,
		Healthy:          true,
		OverclockSupport: true,
		Privileged:       true,
	}
}

// SetCapabilities overrides the default capability ranges.
func (f *Fake) SetCapabilities(caps Capabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps = caps
}

// Calls returns the ordered log of mutating calls.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)

	return out
}

// State returns the currently applied configuration.
func (f *Fake) State() (core, memory MHz, power Watts) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.coreOffset, f.memoryOffset, f.powerLimit
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) Detect() (Info, error) {
	return f.info, nil
}

func (f *Fake) Capabilities() (Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.caps, nil
}

func (f *Fake) DriverVersion() (string, error) {
	return f.info.Driver, nil
}

func (f *Fake) Telemetry() (Sample, error) {
	if f.TelemetryDelay > 0 {
		time.Sleep(f.TelemetryDelay)
	}

	f.mu.Lock()
	fn := f.TelemetryFunc
	core := f.coreOffset
	memory := f.memoryOffset
	power := f.powerLimit
	f.mu.Unlock()

	if fn != nil {
		return fn()
	}

	// Synthesized steady-state reading: base clocks plus offsets, warm
	// but untroubled.
	return Sample{
		Timestamp:   time.Now(),
		CoreClock:   1800 + core,
		MemoryClock: 7000 + memory,
		PowerDraw:   power - 20,
		Temperature: 65,
		FanSpeed:    55,
		Utilization: 97,
	}, nil
}

func (f *Fake) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Healthy
}

func (f *Fake) ApplyClockOffset(domain Domain, offset MHz) error {
	errFactory := errors.New()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ApplyOffsetErr != nil {
		return f.ApplyOffsetErr
	}

	limits := f.caps.OffsetLimitsFor(domain)
	if offset < limits.Min || offset > limits.Max {
		return errFactory.WithData(ErrOffsetOutOfRange, map[string]any{
			"domain": domain.String(),
			"offset": int(offset),
		})
	}

	if domain == DomainMemory {
		f.memoryOffset = offset
	} else {
		f.coreOffset = offset
	}
	f.record("offset %s=%+d", domain, int(offset))

	return nil
}

func (f *Fake) ResetClocks() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ResetClocksErr != nil {
		return f.ResetClocksErr
	}

	f.coreOffset = 0
	f.memoryOffset = 0
	f.record("reset clocks")

	return nil
}

func (f *Fake) SetPowerLimit(limit Watts) error {
	errFactory := errors.New()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetPowerErr != nil {
		return f.SetPowerErr
	}

	if limit < f.caps.Power.Min || limit > f.caps.Power.Max {
		return errFactory.WithData(ErrPowerOutOfRange, int(limit))
	}

	f.powerLimit = limit
	f.record("power=%d", int(limit))

	return nil
}

func (f *Fake) ResetPowerLimit() error {
	f.mu.Lock()
	if f.ResetPowerErr != nil {
		f.mu.Unlock()
		return f.ResetPowerErr
	}
	def := f.caps.Power.Default
	f.mu.Unlock()

	return f.SetPowerLimit(def)
}

func (f *Fake) SupportsOverclock() bool {
	return f.OverclockSupport
}

func (f *Fake) HasPrivileges() bool {
	return f.Privileged
}

func (f *Fake) Shutdown() error {
	return nil
}
