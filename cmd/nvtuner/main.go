package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/nvtuner/internal/config"
	"codeberg.org/mutker/nvtuner/internal/device"
	"codeberg.org/mutker/nvtuner/internal/events"
	"codeberg.org/mutker/nvtuner/internal/gate"
	"codeberg.org/mutker/nvtuner/internal/logger"
	"codeberg.org/mutker/nvtuner/internal/optimizer"
	"codeberg.org/mutker/nvtuner/internal/pid"
	"codeberg.org/mutker/nvtuner/internal/profile"
	"codeberg.org/mutker/nvtuner/internal/rollback"
	"codeberg.org/mutker/nvtuner/internal/store"
	"codeberg.org/mutker/nvtuner/internal/stress"
	"codeberg.org/mutker/nvtuner/internal/sysevents"
	"codeberg.org/mutker/nvtuner/internal/telemetry"
	"codeberg.org/mutker/nvtuner/internal/workload"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}
	defer pid.Remove()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("optimization failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctrl, err := newController()
	if err != nil {
		return err
	}
	defer ctrl.Shutdown()

	info, err := ctrl.Detect()
	if err != nil {
		return err
	}
	logger.Info().
		Str("device", info.Name).
		Str("driver", info.Driver).
		Msg("Device detected")

	caps, err := ctrl.Capabilities()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()
	publisher := events.Multi{events.LogPublisher{}, bus}

	archive, err := telemetry.NewCollector(telemetry.Config{
		DBPath:  cfg.TelemetryDB,
		Enabled: cfg.Telemetry,
	})
	if err != nil {
		return err
	}
	defer archive.Close()

	monitor, err := telemetry.NewMonitor(ctrl, publisher, telemetry.MonitorConfig{
		HistorySize:   cfg.HistorySize,
		SoftTempLimit: device.Celsius(cfg.MaxTemperature),
		Archive:       archive,
	})
	if err != nil {
		return err
	}

	interval := time.Duration(cfg.Interval) * time.Second
	if err := monitor.Start(ctx, interval); err != nil {
		return err
	}
	defer monitor.Stop()

	sysMon := sysevents.NewJournalMonitor()
	if err := sysMon.Start(ctx, interval); err != nil {
		logger.Warn().Err(err).Msg("Platform event monitoring unavailable")
	}
	defer sysMon.Stop()

	repo, err := store.NewRepository(store.Config{DBPath: cfg.ProfileDB})
	if err != nil {
		return err
	}
	defer repo.Close()

	goal, err := optimizer.NewGoal(cfg.Mode, caps, device.Celsius(cfg.MaxTemperature))
	if err != nil {
		return err
	}

	driver := workload.NewDriver(ctrl)
	validator := stress.NewValidator(ctrl, driver, sysMon, publisher, stress.Config{
		MaxTemperature: device.Celsius(cfg.MaxTemperature),
	})
	acceptance := gate.New(ctrl, driver, monitor, sysMon, publisher, gate.Config{})
	rb := rollback.NewController(ctrl, profile.Stock(caps))

	o := optimizer.New(ctrl, validator, acceptance, rb, repo, publisher, optimizer.Config{
		Goal:       goal,
		TimeBudget: time.Duration(cfg.TimeBudget) * time.Minute,
	})

	outcome, err := o.Optimize(ctx)
	if err != nil {
		// The device was already restored where possible; surface the
		// failure to the operator.
		return err
	}

	logger.Info().
		Str("config", outcome.Best.String()).
		Float64("score", outcome.Score).
		Dur("elapsed", outcome.Elapsed).
		Bool("budget_exhausted", outcome.BudgetExhausted).
		Msg("Optimization complete")

	// One quick confirmation run on the tuned configuration before the
	// daemon exits and leaves it in place.
	confirm, err := validator.RunQuick(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Post-tuning confirmation run failed to execute")
	} else if !confirm.Passed {
		logger.Warn().
			Float64("score", confirm.Score).
			Msg("Tuned configuration failed the confirmation run, restoring known-good")
		if rbErr := rb.Rollback(); rbErr != nil {
			return rbErr
		}
	}

	return nil
}

func newController() (device.Controller, error) {
	if cfg.DryRun {
		logger.Info().Msg("Dry-run mode, using simulated device")
		return device.NewFake(), nil
	}
	return device.New()
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
