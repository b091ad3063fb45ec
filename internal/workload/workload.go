package workload

import (
	"context"
	"time"

	"codeberg.org/mutker/nvtuner/internal/errors"
)

const (
	// Grace period between asking a workload to stop and killing it.
	TerminateGrace = 10 * time.Second
	// A process still alive this long after SIGKILL counts as crashed.
	killBound = 5 * time.Second

	quickCheckDuration = 10 * time.Second
)

// Intensity selects how hard a workload drives the device.
type Intensity int

const (
	Light Intensity = iota
	Medium
	Heavy
	Extreme
)

func (i Intensity) String() string {
	switch i {
	case Light:
		return "light"
	case Medium:
		return "medium"
	case Heavy:
		return "heavy"
	case Extreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// Result summarizes a completed workload run.
type Result struct {
	Strategy        string
	AvgFPS          float64
	FrameTimeStdDev float64
	Completed       bool
	Crashed         bool
	Duration        time.Duration
}

// Strategy is one way of generating load on the device.
type Strategy interface {
	Name() string
	Available() bool
	Run(ctx context.Context, duration time.Duration, intensity Intensity) (Result, error)
}

const (
	ErrNoStrategy   = errors.ErrorCode("workload_no_strategy_available")
	ErrStartFailed  = errors.ErrorCode("workload_start_failed")
	ErrInvalidSpec  = errors.ErrorCode("workload_invalid_spec")
	ErrDriverClosed = errors.ErrorCode("workload_driver_closed")
)
