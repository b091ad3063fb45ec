package events

import (
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
)

// Type identifies an event variant. The set is closed so consumers can
// handle every case exhaustively.
type Type int

const (
	StageProgress Type = iota
	StressProgress
	CriticalTemperature
	ThermalThrottle
	PowerThrottle
	HighTemperature
	TelemetryError
	StabilityResult
	OptimizationComplete
	OptimizationFailed
)

func (t Type) String() string {
	switch t {
	case StageProgress:
		return "stage_progress"
	case StressProgress:
		return "stress_progress"
	case CriticalTemperature:
		return "critical_temperature"
	case ThermalThrottle:
		return "thermal_throttle"
	case PowerThrottle:
		return "power_throttle"
	case HighTemperature:
		return "high_temperature"
	case TelemetryError:
		return "telemetry_error"
	case StabilityResult:
		return "stability_result"
	case OptimizationComplete:
		return "optimization_complete"
	case OptimizationFailed:
		return "optimization_failed"
	default:
		return "unknown"
	}
}

// Event is a single notification. Only the fields relevant to the
// variant are populated; events are emitted, never stored.
type Event struct {
	Type      Type
	Timestamp time.Time

	// Stage progress
	Stage   string
	Step    int
	Total   int
	Message string

	// Stress progress and threshold notifications
	Elapsed       time.Duration
	TotalDuration time.Duration
	Sample        device.Sample

	// Results
	Score  float64
	Passed bool
	Err    error
}

// Publisher delivers events to whatever sink is attached: a UI, a log
// or a network channel. The core does not care which.
type Publisher interface {
	Publish(Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi fans a single publish out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		p.Publish(e)
	}
}

// New stamps an event with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now()}
}
