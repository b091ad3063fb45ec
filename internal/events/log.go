package events

import "codeberg.org/mutker/nvtuner/internal/logger"

// LogPublisher renders events through the structured logger.
type LogPublisher struct{}

func (LogPublisher) Publish(e Event) {
	switch e.Type {
	case StageProgress:
		logger.Info().
			Str("stage", e.Stage).
			Int("step", e.Step).
			Int("total", e.Total).
			Msg(e.Message)
	case StressProgress:
		logger.Debug().
			Dur("elapsed", e.Elapsed).
			Dur("total", e.TotalDuration).
			Int("temperature", int(e.Sample.Temperature)).
			Int("core_clock", int(e.Sample.CoreClock)).
			Int("memory_clock", int(e.Sample.MemoryClock)).
			Int("power", int(e.Sample.PowerDraw)).
			Int("utilization", e.Sample.Utilization).
			Msg("stress progress")
	case CriticalTemperature:
		logger.Error().
			Int("temperature", int(e.Sample.Temperature)).
			Msg("Critical temperature reached, aborting workload")
	case ThermalThrottle, PowerThrottle, HighTemperature:
		logger.Warn().
			Str("event", e.Type.String()).
			Int("temperature", int(e.Sample.Temperature)).
			Str("throttle", e.Sample.Throttle.String()).
			Msg("Threshold notification")
	case TelemetryError:
		logger.Warn().AnErr("error", e.Err).Msg("Telemetry query failed")
	case StabilityResult:
		logger.Info().
			Bool("passed", e.Passed).
			Float64("score", e.Score).
			Msg(e.Message)
	case OptimizationComplete:
		logger.Info().
			Float64("score", e.Score).
			Msg(e.Message)
	case OptimizationFailed:
		logger.Error().AnErr("error", e.Err).Msg(e.Message)
	}
}
