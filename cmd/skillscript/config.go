package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/skillscript/internal/streaming"
	"github.com/rendis/skillscript/pkg/schema"
)

// Config holds the skillscript runtime configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	ScriptsDir   string `json:"scripts_dir" validate:"required"`
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level" validate:"oneof=debug info warn error"`
	TickInterval string `json:"tick_interval" validate:"required"`
	StepBudget   int    `json:"step_budget" validate:"min=1"`
	Trigger      string `json:"trigger" validate:"required"`
	PanelAddr    string `json:"panel_addr" validate:"omitempty,hostname_port"`
	Tracing      bool   `json:"tracing"`
	EventBus     string `json:"event_bus" validate:"omitempty,oneof=memory gochannel kafka"`
	KafkaBrokers string `json:"kafka_brokers" validate:"required_if=EventBus kafka"`
}

func defaultConfig() Config {
	return Config{
		ScriptsDir:   filepath.Join(skillscriptDir(), "scripts"),
		DBPath:       filepath.Join(skillscriptDir(), "journal.db"),
		LogLevel:     "info",
		TickInterval: "50ms",
		StepBudget:   100,
		Trigger:      schema.DefaultTrigger,
		EventBus:     streaming.BusMemory,
	}
}

func skillscriptDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".skillscript"
	}
	return filepath.Join(home, ".skillscript")
}

func settingsPath() string {
	return filepath.Join(skillscriptDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SKILLSCRIPT_SCRIPTS_DIR"); v != "" {
		cfg.ScriptsDir = v
	}
	if v, ok := os.LookupEnv("SKILLSCRIPT_DB_PATH"); ok {
		cfg.DBPath = v // empty disables the journal
	}
	if v := os.Getenv("SKILLSCRIPT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SKILLSCRIPT_TICK_INTERVAL"); v != "" {
		cfg.TickInterval = v
	}
	if v := os.Getenv("SKILLSCRIPT_STEP_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepBudget = n
		}
	}
	if v := os.Getenv("SKILLSCRIPT_TRIGGER"); v != "" {
		cfg.Trigger = v
	}
	if v := os.Getenv("SKILLSCRIPT_PANEL_ADDR"); v != "" {
		cfg.PanelAddr = v
	}
	if v := os.Getenv("SKILLSCRIPT_TRACING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing = b
		}
	}

	if v := os.Getenv("SKILLSCRIPT_EVENT_BUS"); v != "" {
		cfg.EventBus = strings.ToLower(v)
	}
	if v := os.Getenv("SKILLSCRIPT_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}

	return cfg
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the tick interval parses.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid config: %s", strings.Join(msgs, "; ")).WithCause(err)
		}
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid config: %s", err.Error()).WithCause(err)
	}
	if _, err := c.Tick(); err != nil {
		return err
	}
	return nil
}

// Tick parses TickInterval. The interval must be at least one millisecond.
func (c Config) Tick() (time.Duration, error) {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid tick_interval %q", c.TickInterval).WithCause(err)
	}
	if d < time.Millisecond {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "tick_interval must be at least 1ms, got %s", d)
	}
	return d, nil
}
