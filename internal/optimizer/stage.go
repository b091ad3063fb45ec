package optimizer

// Stage identifies one phase of an optimization run. Stages are entered
// strictly in declaration order; any stage may be skipped once the time
// budget is exhausted.
type Stage int

const (
	Initializing Stage = iota
	Baseline
	MemoryTuning
	CoreTuning
	PowerTuning
	Validation
	Completed
	Failed
)

func (s Stage) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Baseline:
		return "baseline"
	case MemoryTuning:
		return "memory_tuning"
	case CoreTuning:
		return "core_tuning"
	case PowerTuning:
		return "power_tuning"
	case Validation:
		return "validation"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
