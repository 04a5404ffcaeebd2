// Package config loads vitalis configuration from a YAML file with
// environment-variable overrides (VITALIS_*). The loaded Config is
// immutable; the one mutable piece, per-metric threshold overrides, is
// managed by ThresholdWatcher with hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env modes.
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
	EnvDemo    = "demo"
)

// Config holds all vitalis configuration.
type Config struct {
	// Core settings
	Env      string `yaml:"env"`       // dev, staging, prod, demo
	AuthMode string `yaml:"auth_mode"` // public, private
	DataDir  string `yaml:"data_dir"`  // base directory for db + logs

	// Database (sqlite file path; ":memory:" allowed for tests)
	DatabasePath string `yaml:"database_path"`

	// Analytical windows
	Windows WindowConfig `yaml:"windows"`

	// Suppression / fatigue control
	Suppression SuppressionConfig `yaml:"suppression"`

	// Degradation thresholds
	Degradation DegradationConfig `yaml:"degradation"`

	// Scheduler
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Per-metric detector threshold overrides, keyed by metric key.
	Thresholds map[string]ThresholdOverride `yaml:"thresholds"`

	// Optional LLM translation layer toggle. The core treats translation
	// as an external pure function; this only gates whether it is invoked.
	EnableLLMTranslation bool `yaml:"enable_llm_translation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// WindowConfig holds window defaults.
type WindowConfig struct {
	AssessmentDays      int `yaml:"assessment_days"`       // default 30
	BaselineWindowDays  int `yaml:"baseline_window_days"`  // default 30
	AttributionDays     int `yaml:"attribution_days"`      // default 28
	MaxAttributionLag   int `yaml:"max_attribution_lag"`   // default 3
	MaxBatchIngest      int `yaml:"max_batch_ingest"`      // default 1000
	BaselineStaleDays   int `yaml:"baseline_stale_days"`   // default 14
	DisconnectHours     int `yaml:"disconnect_hours"`      // default 48
	MinBaselinePoints   int `yaml:"min_baseline_points"`   // default 5
	MinAttributionDays  int `yaml:"min_attribution_days"`  // default 10
	EvaluationMinPoints int `yaml:"evaluation_min_points"` // default 5
}

// SuppressionConfig holds fatigue-control limits.
type SuppressionConfig struct {
	MaxDailyInsights        int     `yaml:"max_daily_insights"`          // default 10
	MinDaysBetweenRepeats   int     `yaml:"min_days_between_repeats"`    // default 7
	MinConfidenceForRepeat  float64 `yaml:"min_confidence_for_repeat"`   // default 0.7
	DailyCapConfidenceFloor float64 `yaml:"daily_cap_confidence_floor"`  // default 0.6
}

// DegradationConfig holds the failure/degradation control thresholds.
type DegradationConfig struct {
	PausedLearningQuality  float64 `yaml:"paused_learning_quality"`  // default 0.6
	ConflictingSignalsPct  float64 `yaml:"conflicting_signals_pct"`  // default 0.20
	UnreliableAdherence    float64 `yaml:"unreliable_adherence"`     // default 0.7
	InstabilitySuppressMul float64 `yaml:"instability_suppress_mul"` // default 2.0
}

// SchedulerConfig holds worker and timeout settings.
type SchedulerConfig struct {
	Workers             int `yaml:"workers"`               // default 4
	LoopSoftLimitSec    int `yaml:"loop_soft_limit_sec"`   // default 5
	NarrativeLimitSec   int `yaml:"narrative_limit_sec"`   // default 3
	ProviderTimeoutSec  int `yaml:"provider_timeout_sec"`  // default 30
	TickSeconds         int `yaml:"tick_seconds"`          // default 60
}

// ThresholdOverride overrides per-metric detector thresholds. Zero values
// mean "use the policy default".
type ThresholdOverride struct {
	ZScore        float64 `yaml:"z_score"`
	TrendSlope    float64 `yaml:"trend_slope"`
	VarianceRatio float64 `yaml:"variance_ratio"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinCoverage   float64 `yaml:"min_coverage"`
	MinEffectSize float64 `yaml:"min_effect_size"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Env:          EnvDev,
		AuthMode:     "private",
		DataDir:      ".vitalis",
		DatabasePath: ".vitalis/vitalis.db",
		Windows: WindowConfig{
			AssessmentDays:      30,
			BaselineWindowDays:  30,
			AttributionDays:     28,
			MaxAttributionLag:   3,
			MaxBatchIngest:      1000,
			BaselineStaleDays:   14,
			DisconnectHours:     48,
			MinBaselinePoints:   5,
			MinAttributionDays:  10,
			EvaluationMinPoints: 5,
		},
		Suppression: SuppressionConfig{
			MaxDailyInsights:        10,
			MinDaysBetweenRepeats:   7,
			MinConfidenceForRepeat:  0.7,
			DailyCapConfidenceFloor: 0.6,
		},
		Degradation: DegradationConfig{
			PausedLearningQuality:  0.6,
			ConflictingSignalsPct:  0.20,
			UnreliableAdherence:    0.7,
			InstabilitySuppressMul: 2.0,
		},
		Scheduler: SchedulerConfig{
			Workers:            4,
			LoopSoftLimitSec:   5,
			NarrativeLimitSec:  3,
			ProviderTimeoutSec: 30,
			TickSeconds:        60,
		},
		Thresholds: map[string]ThresholdOverride{},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load reads config from path (optional) and applies env overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvStaging, EnvProd, EnvDemo:
	default:
		return fmt.Errorf("config: invalid env %q", c.Env)
	}
	switch c.AuthMode {
	case "public", "private":
	default:
		return fmt.Errorf("config: invalid auth_mode %q", c.AuthMode)
	}
	if c.Windows.MaxBatchIngest <= 0 {
		return fmt.Errorf("config: max_batch_ingest must be positive")
	}
	if c.Suppression.MaxDailyInsights <= 0 {
		return fmt.Errorf("config: max_daily_insights must be positive")
	}
	return nil
}

// applyEnvOverrides applies VITALIS_* environment overrides. Only the
// operationally relevant knobs are exposed this way.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("VITALIS_ENV"); v != "" {
		c.Env = strings.ToLower(v)
	}
	if v := os.Getenv("VITALIS_AUTH_MODE"); v != "" {
		c.AuthMode = strings.ToLower(v)
	}
	if v := os.Getenv("VITALIS_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("VITALIS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VITALIS_ENABLE_LLM_TRANSLATION"); v != "" {
		c.EnableLLMTranslation = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VITALIS_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("VITALIS_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VITALIS_MAX_DAILY_INSIGHTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Suppression.MaxDailyInsights = n
		}
	}
	if v := os.Getenv("VITALIS_ASSESSMENT_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Windows.AssessmentDays = n
		}
	}
	if v := os.Getenv("VITALIS_MAX_BATCH_INGEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Windows.MaxBatchIngest = n
		}
	}
	if v := os.Getenv("VITALIS_MIN_DAYS_BETWEEN_REPEATS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Suppression.MinDaysBetweenRepeats = n
		}
	}
}
