// Package config defines the application configuration, its defaults and
// its validation. Configuration is sourced through viper from an optional
// YAML file plus AUTOGS_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration object for the autogs binary.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Oracle    OracleConfig    `mapstructure:"oracle" yaml:"oracle"`
	Evolution EvolutionConfig `mapstructure:"evolution" yaml:"evolution"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
}

// LoggerConfig controls the zap logger and its rotating file sink.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Encoding   string `mapstructure:"encoding" yaml:"encoding"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// OracleConfig configures the external text-completion oracle.
type OracleConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	FastModel      string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel  string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries     uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"`
}

// EvolutionConfig tunes the deliberation engine and the cycle loop.
type EvolutionConfig struct {
	SeedPath                string        `mapstructure:"seed_path" yaml:"seed_path"`
	RegressionDir           string        `mapstructure:"regression_dir" yaml:"regression_dir"`
	MinActionThreshold      float64       `mapstructure:"min_action_threshold" yaml:"min_action_threshold"`
	MinSampleSize           int           `mapstructure:"min_sample_size" yaml:"min_sample_size"`
	RecencyWindow           int           `mapstructure:"recency_window" yaml:"recency_window"`
	MaxConsecutiveFailures  int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	StagnationCycles        int           `mapstructure:"stagnation_cycles" yaml:"stagnation_cycles"`
	ComplexityGrowthLimit   float64       `mapstructure:"complexity_growth_limit" yaml:"complexity_growth_limit"`
	ComponentFunctionFloor  int           `mapstructure:"component_function_floor" yaml:"component_function_floor"`
	BaseReflectInterval     time.Duration `mapstructure:"base_reflect_interval" yaml:"base_reflect_interval"`
	BusyReflectInterval     time.Duration `mapstructure:"busy_reflect_interval" yaml:"busy_reflect_interval"`
	StaleReflectInterval    time.Duration `mapstructure:"stale_reflect_interval" yaml:"stale_reflect_interval"`
	StaleCycleThreshold     int           `mapstructure:"stale_cycle_threshold" yaml:"stale_cycle_threshold"`
	FeedbackRefreshInterval int           `mapstructure:"feedback_refresh_interval" yaml:"feedback_refresh_interval"`
}

// SandboxConfig bounds candidate execution.
type SandboxConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxSteps    uint64        `mapstructure:"max_steps" yaml:"max_steps"`
	Parallelism int           `mapstructure:"parallelism" yaml:"parallelism"`
}

// MemoryConfig selects and tunes the episodic memory backend.
type MemoryConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	MaxEpisodes int    `mapstructure:"max_episodes" yaml:"max_episodes"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// JournalConfig locates the durable per-cycle audit records.
type JournalConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DefaultBaseDir returns the directory under which autogs keeps its
// journal, logs and organism seed when no explicit paths are configured.
func DefaultBaseDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".autogs"
	}
	return filepath.Join(home, ".autogs")
}

// SetDefaults registers the default value for every configuration key on
// the given viper instance. Defaults must be registered before
// unmarshalling so that absent keys resolve predictably.
func SetDefaults(v *viper.Viper) {
	base := DefaultBaseDir()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.file", filepath.Join(base, "logs", "autogs.log"))
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("oracle.provider", "openrouter")
	v.SetDefault("oracle.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("oracle.fast_model", "deepseek/deepseek-chat-v3-0324:free")
	v.SetDefault("oracle.powerful_model", "deepseek/deepseek-r1:free")
	v.SetDefault("oracle.request_timeout", 60*time.Second)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.max_elapsed_time", 2*time.Minute)
	v.SetDefault("oracle.requests_per_min", 8)

	v.SetDefault("evolution.seed_path", "")
	v.SetDefault("evolution.regression_dir", filepath.Join(base, "regression"))
	v.SetDefault("evolution.min_action_threshold", 0.4)
	v.SetDefault("evolution.min_sample_size", 3)
	v.SetDefault("evolution.recency_window", 20)
	v.SetDefault("evolution.max_consecutive_failures", 3)
	v.SetDefault("evolution.stagnation_cycles", 3)
	v.SetDefault("evolution.complexity_growth_limit", 1.15)
	v.SetDefault("evolution.component_function_floor", 4)
	v.SetDefault("evolution.base_reflect_interval", 10*time.Second)
	v.SetDefault("evolution.busy_reflect_interval", 5*time.Second)
	v.SetDefault("evolution.stale_reflect_interval", 30*time.Second)
	v.SetDefault("evolution.stale_cycle_threshold", 10)
	v.SetDefault("evolution.feedback_refresh_interval", 5)

	v.SetDefault("sandbox.timeout", 5*time.Second)
	v.SetDefault("sandbox.max_steps", uint64(500_000))
	v.SetDefault("sandbox.parallelism", 4)

	v.SetDefault("memory.backend", "inmemory")
	v.SetDefault("memory.max_episodes", 1000)
	v.SetDefault("memory.postgres_dsn", "")

	v.SetDefault("journal.dir", filepath.Join(base, "journal"))
}

// NewConfigFromViper builds and validates a Config from a prepared viper
// instance. Secrets are bound from the environment here rather than
// stored in files.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// The API key never belongs in a config file.
	_ = v.BindEnv("oracle.api_key", "AUTOGS_ORACLE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section for internally consistent values.
func (c *Config) Validate() error {
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("oracle config: %w", err)
	}
	if err := c.Evolution.Validate(); err != nil {
		return fmt.Errorf("evolution config: %w", err)
	}
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox config: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}
	return nil
}

// Validate checks the oracle section.
func (o *OracleConfig) Validate() error {
	switch o.Provider {
	case "openrouter", "none":
	default:
		return fmt.Errorf("unknown provider %q", o.Provider)
	}
	if o.Provider != "none" && o.BaseURL == "" {
		return fmt.Errorf("base_url must be set for provider %q", o.Provider)
	}
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", o.RequestTimeout)
	}
	return nil
}

// Validate checks the evolution section.
func (e *EvolutionConfig) Validate() error {
	if e.MinActionThreshold < 0 || e.MinActionThreshold > 1 {
		return fmt.Errorf("min_action_threshold must be in [0,1], got %f", e.MinActionThreshold)
	}
	if e.MinSampleSize < 1 {
		return fmt.Errorf("min_sample_size must be at least 1, got %d", e.MinSampleSize)
	}
	if e.RecencyWindow < e.MinSampleSize {
		return fmt.Errorf("recency_window (%d) must not be smaller than min_sample_size (%d)", e.RecencyWindow, e.MinSampleSize)
	}
	if e.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1, got %d", e.MaxConsecutiveFailures)
	}
	if e.BaseReflectInterval <= 0 || e.BusyReflectInterval <= 0 || e.StaleReflectInterval <= 0 {
		return fmt.Errorf("reflect intervals must all be positive")
	}
	return nil
}

// Validate checks the sandbox section.
func (s *SandboxConfig) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.MaxSteps == 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if s.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", s.Parallelism)
	}
	return nil
}

// Validate checks the memory section.
func (m *MemoryConfig) Validate() error {
	switch m.Backend {
	case "inmemory":
	case "postgres":
		if m.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn must be set when backend is postgres")
		}
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
	if m.MaxEpisodes < 1 {
		return fmt.Errorf("max_episodes must be at least 1, got %d", m.MaxEpisodes)
	}
	return nil
}
