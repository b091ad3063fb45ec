package stress

// Score deduction policy. Deductions accrue independently per category,
// per-category caps apply, and the final score is clamped to [0, 100].
const (
	crashPenalty       = 100
	driverResetPenalty = 50

	throttlePenalty = 2
	throttleCap     = 30

	clockDropPenalty = 1
	clockDropCap     = 20

	artifactPenalty = 40

	hotPenalty       = 10 // max temperature above 90°C
	veryHotPenalty   = 20 // additional, above 95°C
	hotThreshold     = 90
	veryHotThreshold = 95
)

func score(r Result) float64 {
	s := 100.0

	if r.Crashed {
		s -= crashPenalty
	}
	s -= float64(driverResetPenalty * r.DriverResets)

	throttleDeduction := throttlePenalty * r.ThrottleEvents
	if throttleDeduction > throttleCap {
		throttleDeduction = throttleCap
	}
	s -= float64(throttleDeduction)

	clockDropDeduction := clockDropPenalty * r.ClockDropEvents
	if clockDropDeduction > clockDropCap {
		clockDropDeduction = clockDropCap
	}
	s -= float64(clockDropDeduction)

	if r.ArtifactsDetected {
		s -= artifactPenalty
	}

	if r.MaxTemperature > hotThreshold {
		s -= hotPenalty
	}
	if r.MaxTemperature > veryHotThreshold {
		s -= veryHotPenalty
	}

	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}

	return s
}
