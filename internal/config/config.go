package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/nvtuner/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval       = 1
	defaultTimeBudget     = 10
	defaultMaxTemperature = 83
	defaultHistorySize    = 300
	defaultMode           = "balanced"
	defaultTelemetryDB    = "/var/lib/nvtuner/telemetry.db"
	defaultProfileDB      = "/var/lib/nvtuner/profiles.db"
)

// Config holds the daemon configuration. Values are loaded from
// nvtuner.toml, overridden by environment variables (NVTUNER_*) and
// command line flags, in that order.
type Config struct {
	Interval       int    `mapstructure:"interval"`
	Mode           string `mapstructure:"mode"`
	TimeBudget     int    `mapstructure:"time_budget"`
	MaxTemperature int    `mapstructure:"max_temperature"`
	HistorySize    int    `mapstructure:"history_size"`
	Telemetry      bool   `mapstructure:"telemetry"`
	TelemetryDB    string `mapstructure:"telemetry_db"`
	ProfileDB      string `mapstructure:"profile_db"`
	DryRun         bool   `mapstructure:"dry_run"`
	Debug          bool   `mapstructure:"debug"`
	Verbose        bool   `mapstructure:"verbose"`
	LogLevel       string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	v.SetDefault("interval", defaultInterval)
	v.SetDefault("mode", defaultMode)
	v.SetDefault("time_budget", defaultTimeBudget)
	v.SetDefault("max_temperature", defaultMaxTemperature)
	v.SetDefault("history_size", defaultHistorySize)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", defaultTelemetryDB)
	v.SetDefault("profile_db", defaultProfileDB)
	v.SetDefault("dry_run", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)

	flags := pflag.NewFlagSet("nvtuner", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.Int("interval", defaultInterval, "Telemetry sampling interval in seconds")
	flags.String("mode", defaultMode, "Optimization mode: performance, balanced or quiet")
	flags.Int("time-budget", defaultTimeBudget, "Wall-clock budget for a tuning run in minutes")
	flags.Int("max-temperature", defaultMaxTemperature, "Maximum allowed temperature in Celsius")
	flags.Bool("dry-run", false, "Use the in-memory device instead of real hardware")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"interval":        "interval",
		"mode":            "mode",
		"time-budget":     "time_budget",
		"max-temperature": "max_temperature",
		"dry-run":         "dry_run",
		"debug":           "debug",
		"verbose":         "verbose",
		"log-level":       "log_level",
	}
	for flagName, key := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("NVTUNER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath := os.Getenv("NVTUNER_CONFIG"); configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("nvtuner")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.TimeBudget <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "time_budget must be positive").WithData(c.TimeBudget)
	}

	switch c.Mode {
	case "performance", "balanced", "quiet":
	default:
		return errFactory.WithMessage(errors.ErrInvalidConfig, "invalid mode").WithData(c.Mode)
	}

	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "error":
		return true
	default:
		return false
	}
}
