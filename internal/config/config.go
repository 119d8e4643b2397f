// Package config loads server settings from VITALS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"vitals/server/internal/observability"
	"vitals/server/logging"
)

// Config is the full process configuration.
type Config struct {
	Addr                  string        `env:"VITALS_ADDR" envDefault:":8080"`
	TickRate              int           `env:"VITALS_TICK_RATE" envDefault:"15"`
	KeyframeIntervalTicks int           `env:"VITALS_KEYFRAME_INTERVAL_TICKS" envDefault:"30"`
	KeyframeCapacity      int           `env:"VITALS_KEYFRAME_CAPACITY" envDefault:"8"`
	KeyframeMaxAge        time.Duration `env:"VITALS_KEYFRAME_MAX_AGE" envDefault:"10s"`
	DeathDurationTicks    int           `env:"VITALS_DEATH_DURATION_TICKS" envDefault:"45"`
	AutoStartDeath        bool          `env:"VITALS_AUTO_START_DEATH" envDefault:"true"`
	TemplatesPath         string        `env:"VITALS_TEMPLATES_PATH"`
	WatchTemplates        bool          `env:"VITALS_WATCH_TEMPLATES" envDefault:"false"`
	StorePath             string        `env:"VITALS_STORE_PATH"`
	ModifierScript        string        `env:"VITALS_MODIFIER_SCRIPT"`
	LogSinks              []string      `env:"VITALS_LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath           string        `env:"VITALS_LOG_JSON_PATH"`
	LogMinSeverity        string        `env:"VITALS_LOG_MIN_SEVERITY" envDefault:"info"`
	LogBufferSize         int           `env:"VITALS_LOG_BUFFER_SIZE" envDefault:"512"`
	Observability         observability.Config
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the hub cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("VITALS_ADDR is required")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("VITALS_TICK_RATE must be positive, got %d", c.TickRate)
	}
	if c.KeyframeIntervalTicks < 0 {
		return fmt.Errorf("VITALS_KEYFRAME_INTERVAL_TICKS must not be negative, got %d", c.KeyframeIntervalTicks)
	}
	if c.DeathDurationTicks < 0 {
		return fmt.Errorf("VITALS_DEATH_DURATION_TICKS must not be negative, got %d", c.DeathDurationTicks)
	}
	if _, err := logging.ParseSeverity(c.LogMinSeverity); err != nil {
		return fmt.Errorf("VITALS_LOG_MIN_SEVERITY: %w", err)
	}
	for _, sink := range c.LogSinks {
		switch strings.TrimSpace(sink) {
		case "console", "memory":
		case "json":
			if c.LogJSONPath == "" {
				return fmt.Errorf("VITALS_LOG_JSON_PATH is required when the json sink is enabled")
			}
		default:
			return fmt.Errorf("unknown log sink %q", sink)
		}
	}
	return nil
}

// TickInterval converts the tick rate into a ticker period.
func (c Config) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 15
	}
	return time.Second / time.Duration(c.TickRate)
}

// Logging builds the router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = make([]string, 0, len(c.LogSinks))
		for _, sink := range c.LogSinks {
			cfg.EnabledSinks = append(cfg.EnabledSinks, strings.TrimSpace(sink))
		}
	}
	if c.LogBufferSize > 0 {
		cfg.BufferSize = c.LogBufferSize
	}
	if severity, err := logging.ParseSeverity(c.LogMinSeverity); err == nil {
		cfg.MinimumSeverity = severity
	}
	cfg.JSON.FilePath = c.LogJSONPath
	cfg.Fields = map[string]any{"service": observability.ServiceName}
	return cfg
}
