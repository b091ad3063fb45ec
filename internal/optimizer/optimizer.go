package optimizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/gate"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"codeberg.org/mutker/nvtuner/internal/store"
	"codeberg.org/mutker/nvtuner/internal/stress"
	"codeberg.org/mutker/nvtuner/internal/workload"
)

const (
	defaultTimeBudget        = 10 * time.Minute
	defaultStressDuration    = 30 * time.Second
	defaultBenchmarkDuration = time.Minute
	defaultFinalDuration     = 5 * time.Minute

	memoryScoreThreshold = 80
	coreScoreThreshold   = 85
	finalScoreThreshold  = 90

	maxConsecutiveFailures = 2

	stageCount = 6
)

// Validator is the stress-test surface the search loop drives.
type Validator interface {
	Run(ctx context.Context, spec stress.TestSpec) (stress.Result, error)
	RunExtreme(ctx context.Context, duration time.Duration) (stress.Result, error)
}

// AcceptanceGate is the strict final check run once per optimization,
// after the extreme stress test passes.
type AcceptanceGate interface {
	Validate(ctx context.Context, cfg profile.Config) (gate.Result, error)
}

// Rollbacker restores the last known-good configuration.
type Rollbacker interface {
	SetKnownGood(cfg profile.Config)
	KnownGood() profile.Config
	Rollback() error
}

// Config parameterizes an optimization run.
type Config struct {
	Goal              Goal
	TimeBudget        time.Duration
	MemoryStep        StepPolicy
	CoreStep          StepPolicy
	StressDuration    time.Duration
	BenchmarkDuration time.Duration
	FinalDuration     time.Duration
}

func (c *Config) applyDefaults() {
	if c.TimeBudget <= 0 {
		c.TimeBudget = defaultTimeBudget
	}
	if c.MemoryStep == (StepPolicy{}) {
		c.MemoryStep = StepPolicy{Initial: 100, Min: 25}
	}
	if c.CoreStep == (StepPolicy{}) {
		c.CoreStep = StepPolicy{Initial: 50, Min: 10}
	}
	if c.StressDuration <= 0 {
		c.StressDuration = defaultStressDuration
	}
	if c.BenchmarkDuration <= 0 {
		c.BenchmarkDuration = defaultBenchmarkDuration
	}
	if c.FinalDuration <= 0 {
		c.FinalDuration = defaultFinalDuration
	}
}

// Outcome is the result of one optimization run.
type Outcome struct {
	Best            profile.Config
	Score           float64
	Stage           Stage
	BudgetExhausted bool
	Elapsed         time.Duration
}

// Optimizer drives the staged coordinate-descent search: baseline,
// memory offset, core offset, power limit, then a single strict final
// validation. The hardware is never left on a configuration that has
// not passed at least the per-candidate stress check.
type Optimizer struct {
	ctrl      device.Controller
	validator Validator
	gate      AcceptanceGate
	rollback  Rollbacker
	repo      store.Store
	publisher events.Publisher
	cfg       Config

	running atomic.Bool
	mu      sync.Mutex
	stage   Stage
}

// New builds an optimizer. repo may be nil, in which case results are
// not persisted.
func New(ctrl device.Controller, validator Validator, acceptance AcceptanceGate, rb Rollbacker, repo store.Store, publisher events.Publisher, cfg Config) *Optimizer {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Optimizer{
		ctrl:      ctrl,
		validator: validator,
		gate:      acceptance,
		rollback:  rb,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Stage reports the stage of the in-flight (or most recent) run.
func (o *Optimizer) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Optimize runs one full optimization session. Only one call may run
// at a time; a concurrent call fails immediately without disturbing
// the in-flight run.
func (o *Optimizer) Optimize(ctx context.Context) (Outcome, error) {
	errFactory := errors.New()

	if !o.running.CompareAndSwap(false, true) {
		return Outcome{}, errFactory.New(errors.ErrConcurrencyViolation)
	}
	defer o.running.Store(false)

	start := time.Now()
	deadline := start.Add(o.cfg.TimeBudget)

	o.transition(Initializing, "probing device capabilities")
	caps, err := o.ctrl.Capabilities()
	if err != nil {
		return o.fail(errFactory.Wrap(errors.ErrHardwareUnavailable, err))
	}
	if !o.ctrl.SupportsOverclock() {
		return o.fail(errFactory.WithMessage(errors.ErrHardwareUnavailable, "device does not support overclocking"))
	}
	if !o.ctrl.HasPrivileges() {
		return o.fail(errFactory.WithMessage(errors.ErrHardwareUnavailable, "insufficient privileges for hardware control"))
	}

	o.transition(Baseline, "measuring stock configuration")
	best := profile.Stock(caps)
	if err := profile.Apply(o.ctrl, best); err != nil {
		return o.fail(err)
	}
	res, err := o.validator.Run(ctx, o.spec(workload.Medium, o.cfg.StressDuration))
	if err != nil {
		return o.abort(err)
	}
	if !res.Passed {
		return o.abort(errFactory.WithMessage(errors.ErrStabilityViolation, "stock configuration failed its stress test"))
	}
	bestScore := res.Score
	o.rollback.SetKnownGood(best)
	o.persist(ctx, best, bestScore)

	if o.withinBudget(deadline) {
		o.transition(MemoryTuning, "searching memory offset")
		best, bestScore, err = o.searchDimension(ctx, deadline, caps, best, bestScore,
			device.DomainMemory, o.cfg.MemoryStep, workload.Medium, memoryScoreThreshold)
		if err != nil {
			return o.abort(err)
		}
	}

	if o.withinBudget(deadline) {
		o.transition(CoreTuning, "searching core offset")
		best, bestScore, err = o.searchDimension(ctx, deadline, caps, best, bestScore,
			device.DomainCore, o.cfg.CoreStep, workload.Heavy, coreScoreThreshold)
		if err != nil {
			return o.abort(err)
		}
	}

	if o.withinBudget(deadline) && caps.SupportsPowerLimit {
		o.transition(PowerTuning, "tuning power limit")
		best, bestScore, err = o.powerStage(ctx, deadline, caps, best, bestScore)
		if err != nil {
			return o.abort(err)
		}
	}

	budgetExhausted := !o.withinBudget(deadline)
	if budgetExhausted {
		logger.Warn().
			Dur("budget", o.cfg.TimeBudget).
			Msg("Time budget exhausted, skipping remaining stages")
	} else {
		o.transition(Validation, "final extended validation")
		accepted, err := o.finalValidation(ctx, best)
		if err != nil {
			return o.abort(err)
		}
		if !accepted {
			// The candidate that just failed is discarded; the device
			// returns to the configuration that was best before this
			// stage, via a single rollback.
			logger.Warn().Str("config", best.String()).Msg("Final validation failed, rolling back")
			if rbErr := o.rollback.Rollback(); rbErr != nil {
				return o.escalate(rbErr)
			}
			best = o.rollback.KnownGood()
		}
	}

	o.persist(ctx, best, bestScore)
	o.markKnownGood(ctx, best)
	o.transition(Completed, "optimization finished")

	ev := events.New(events.OptimizationComplete)
	ev.Score = bestScore
	ev.Message = best.String()
	o.publisher.Publish(ev)

	return Outcome{
		Best:            best,
		Score:           bestScore,
		Stage:           Completed,
		BudgetExhausted: budgetExhausted,
		Elapsed:         time.Since(start),
	}, nil
}

// searchDimension runs the step-halving search over one clock-offset
// dimension. Candidates advance from the last stable offset; a passing
// candidate grows the stride, a failing one shrinks the step, and the
// search stops on the capability bound, two consecutive failures, the
// minimum step, or the time budget.
func (o *Optimizer) searchDimension(ctx context.Context, deadline time.Time, caps device.Capabilities, best profile.Config, bestScore float64, dim device.Domain, policy StepPolicy, intensity workload.Intensity, threshold float64) (profile.Config, float64, error) {
	policy = policy.withDefaults()
	limits := caps.OffsetLimitsFor(dim)
	if limits.Max <= 0 {
		logger.Info().Str("domain", dim.String()).Msg("No positive offset headroom, skipping dimension")
		return best, bestScore, nil
	}

	lastStable := offsetOf(best, dim)
	step := policy.Initial
	stride := step
	failures := 0

	for {
		if !o.withinBudget(deadline) {
			logger.Warn().Str("domain", dim.String()).Msg("Time budget exhausted during offset search")
			break
		}

		offset := lastStable + stride
		if offset > limits.Max {
			offset = limits.Max
		}
		if offset <= lastStable {
			break
		}

		candidate := withOffset(best, dim, offset)
		if err := profile.Apply(o.ctrl, candidate); err != nil {
			if errors.HasCode(err, profile.ErrOutOfRange) {
				break
			}
			return best, bestScore, err
		}
		logger.Info().Str("candidate", candidate.String()).Msg("Testing candidate configuration")

		res, err := o.validator.Run(ctx, o.spec(intensity, o.cfg.StressDuration))
		if err != nil {
			return best, bestScore, err
		}

		if res.Passed && res.Score >= threshold {
			failures = 0

			bench, err := o.validator.Run(ctx, o.spec(intensity, o.cfg.BenchmarkDuration))
			if err != nil {
				return best, bestScore, err
			}
			if bench.Passed && bench.Score > bestScore {
				best = candidate
				bestScore = bench.Score
				o.rollback.SetKnownGood(best)
				o.persist(ctx, best, bestScore)
				logger.Info().
					Str("config", best.String()).
					Float64("score", bestScore).
					Msg("New best configuration")
			}

			lastStable = offset
			if offset >= limits.Max {
				break
			}
			stride = policy.Grow(step, limits.Max)
		} else {
			failures++
			logger.Info().
				Str("candidate", candidate.String()).
				Float64("score", res.Score).
				Int("failures", failures).
				Msg("Candidate failed stress test")
			if failures >= maxConsecutiveFailures {
				break
			}
			next, ok := policy.Shrink(step)
			if !ok {
				break
			}
			step = next
			stride = step
		}
	}

	// Leave the hardware on the best configuration for the next stage.
	if err := profile.Apply(o.ctrl, best); err != nil {
		return best, bestScore, err
	}

	return best, bestScore, nil
}

// powerStage adjusts the power limit according to the goal mode:
// a fixed raise near the board maximum for performance, a fixed
// reduction for quiet, and a small sweep picked on performance per
// watt for balanced.
func (o *Optimizer) powerStage(ctx context.Context, deadline time.Time, caps device.Capabilities, best profile.Config, bestScore float64) (profile.Config, float64, error) {
	limits := caps.Power

	if o.cfg.Goal.Mode != ModeBalanced {
		target := o.cfg.Goal.powerTarget(limits)
		if target == best.PowerLimit {
			return best, bestScore, nil
		}

		candidate := withPower(best, target)
		if err := profile.Apply(o.ctrl, candidate); err != nil {
			return best, bestScore, err
		}
		res, err := o.validator.Run(ctx, o.spec(workload.Medium, o.cfg.StressDuration))
		if err != nil {
			return best, bestScore, err
		}
		if res.Passed {
			best = candidate
			bestScore = res.Score
			o.rollback.SetKnownGood(best)
			o.persist(ctx, best, bestScore)
		} else if err := profile.Apply(o.ctrl, best); err != nil {
			return best, bestScore, err
		}

		return best, bestScore, nil
	}

	// Balanced: sweep a small fixed set of levels and keep the one
	// with the best performance per watt.
	levels := []device.Watts{
		limits.Default,
		limits.Default + (limits.Max-limits.Default)/2,
		limits.Max,
	}

	var (
		chosen      profile.Config
		chosenScore float64
		bestPerWatt float64
		found       bool
	)
	for _, level := range levels {
		if !o.withinBudget(deadline) {
			break
		}
		candidate := withPower(best, level)
		if err := profile.Apply(o.ctrl, candidate); err != nil {
			return best, bestScore, err
		}
		res, err := o.validator.Run(ctx, o.spec(workload.Medium, o.cfg.StressDuration))
		if err != nil {
			return best, bestScore, err
		}
		if !res.Passed {
			continue
		}
		if ppw := perfPerWatt(res); !found || ppw > bestPerWatt {
			found = true
			bestPerWatt = ppw
			chosen = candidate
			chosenScore = res.Score
		}
	}

	if found {
		best = chosen
		bestScore = chosenScore
		o.rollback.SetKnownGood(best)
		o.persist(ctx, best, bestScore)
	}
	if err := profile.Apply(o.ctrl, best); err != nil {
		return best, bestScore, err
	}

	return best, bestScore, nil
}

// finalValidation runs the extreme stress test and then the stability
// gate. Both must pass for the configuration to be accepted.
func (o *Optimizer) finalValidation(ctx context.Context, best profile.Config) (bool, error) {
	res, err := o.validator.RunExtreme(ctx, o.cfg.FinalDuration)
	if err != nil {
		return false, err
	}
	if !res.Passed || res.Score < finalScoreThreshold {
		return false, nil
	}

	if o.gate == nil {
		return true, nil
	}
	g, err := o.gate.Validate(ctx, best)
	if err != nil {
		return false, err
	}
	return g.Passed, nil
}

func (o *Optimizer) spec(intensity workload.Intensity, duration time.Duration) stress.TestSpec {
	return stress.TestSpec{
		Duration:       duration,
		Intensity:      intensity,
		MaxTemperature: o.cfg.Goal.MaxTemperature,
		MaxPowerDraw:   o.cfg.Goal.MaxPower,
	}
}

func (o *Optimizer) withinBudget(deadline time.Time) bool {
	return time.Now().Before(deadline)
}

func (o *Optimizer) transition(s Stage, msg string) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()

	logger.Info().Str("stage", s.String()).Msg(msg)

	e := events.New(events.StageProgress)
	e.Stage = s.String()
	e.Message = msg
	if s <= Validation {
		e.Step = int(s) + 1
		e.Total = stageCount
	}
	o.publisher.Publish(e)
}

// fail handles errors before any configuration change was made; no
// rollback is needed.
func (o *Optimizer) fail(err error) (Outcome, error) {
	o.transition(Failed, "optimization failed")
	ev := events.New(events.OptimizationFailed)
	ev.Err = err
	o.publisher.Publish(ev)

	return Outcome{Stage: Failed}, err
}

// abort handles errors after the hardware may have been modified: the
// known-good configuration is restored before returning. A rollback
// failure leaves the device in an unknown state and escalates.
func (o *Optimizer) abort(err error) (Outcome, error) {
	if rbErr := o.rollback.Rollback(); rbErr != nil {
		return o.escalate(rbErr)
	}
	return o.fail(err)
}

// escalate reports a failed rollback. This is fatal-class: the device
// state is unknown and retrying a failing hardware apply does not make
// it safer, so the error is surfaced for process termination rather
// than retried.
func (o *Optimizer) escalate(rbErr error) (Outcome, error) {
	logger.Error().AnErr("error", rbErr).Msg("Rollback failed, device state unknown")
	o.transition(Failed, "rollback failed")
	ev := events.New(events.OptimizationFailed)
	ev.Err = rbErr
	o.publisher.Publish(ev)

	return Outcome{Stage: Failed}, rbErr
}

func (o *Optimizer) persist(ctx context.Context, cfg profile.Config, score float64) {
	if o.repo == nil {
		return
	}
	if err := o.repo.Persist(ctx, cfg, score); err != nil {
		logger.Warn().AnErr("error", err).Msg("Failed to persist configuration")
	}
}

func (o *Optimizer) markKnownGood(ctx context.Context, cfg profile.Config) {
	if o.repo == nil {
		return
	}
	if err := o.repo.MarkKnownGood(ctx, cfg.ID); err != nil {
		logger.Warn().AnErr("error", err).Msg("Failed to mark configuration known-good")
	}
}

func offsetOf(cfg profile.Config, dim device.Domain) device.MHz {
	if dim == device.DomainMemory {
		return cfg.MemoryOffset
	}
	return cfg.CoreOffset
}

func withOffset(base profile.Config, dim device.Domain, offset device.MHz) profile.Config {
	core, mem := base.CoreOffset, base.MemoryOffset
	if dim == device.DomainMemory {
		mem = offset
	} else {
		core = offset
	}
	label := fmt.Sprintf("%s %+d", dim.String(), int(offset))
	return profile.New(label, core, mem, base.PowerLimit)
}

func withPower(base profile.Config, power device.Watts) profile.Config {
	label := fmt.Sprintf("power %dW", int(power))
	return profile.New(label, base.CoreOffset, base.MemoryOffset, power)
}

func perfPerWatt(r stress.Result) float64 {
	if r.AvgPower <= 0 {
		return 0
	}
	return r.AvgCoreClock / r.AvgPower
}
