package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// JournalOff as the journal DSN disables the journal.
const JournalOff = "off"

const defaultRiskPenalty = 0.01

// Config is the full configuration of the bot.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	RiskPenalty      *float64 `yaml:"risk_penalty"` // nil takes the default; 0 is risk neutral
	SyncMaxDelay     int      `yaml:"sync_max_delay"`
	MMMaxDelay       int      `yaml:"mm_max_delay"`
	ReactiveMaxDelay int      `yaml:"reactive_max_delay"`
	OrdersPerSecond  float64  `yaml:"orders_per_second"` // negative disables the limit
	OrderBurst       int      `yaml:"order_burst"`
	Seed             int64    `yaml:"seed"` // 0 seeds from the clock
}

// SessionConfig shapes the trading session and the creep window at its end.
type SessionConfig struct {
	LengthMinutes       int   `yaml:"length_minutes"`
	CreepWindowMinutes  int   `yaml:"creep_window_minutes"`
	CreepMinSpreadTicks int64 `yaml:"creep_min_spread_ticks"`
	CreepMaxUnits       int64 `yaml:"creep_max_units"`
}

// StorageConfig controls the journal database.
type StorageConfig struct {
	JournalDSN    string `yaml:"journal_dsn"` // SQLite path, ":memory:" or "off"
	JournalBuffer int    `yaml:"journal_buffer"`
	RetentionDays int    `yaml:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty disables the endpoint
	Namespace string `yaml:"namespace"`
}

// LogConfig controls log format, level and the optional rotating file.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`
}

// Load reads the YAML file and the .env file if present. Environment
// variables override the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SessionLength returns the session length as a time.Duration.
func (c *Config) SessionLength() time.Duration {
	return time.Duration(c.Session.LengthMinutes) * time.Minute
}

// CreepWindow returns the creep window as a time.Duration.
func (c *Config) CreepWindow() time.Duration {
	return time.Duration(c.Session.CreepWindowMinutes) * time.Minute
}

// Retention returns how long journal entries are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// JournalEnabled reports whether activity should be journaled.
func (c *Config) JournalEnabled() bool {
	return c.Storage.JournalDSN != JournalOff
}

// Validate checks the values setDefaults cannot fix.
func (c *Config) Validate() error {
	if c.Engine.RiskPenalty != nil && *c.Engine.RiskPenalty < 0 {
		return fmt.Errorf("risk_penalty must not be negative, got %v", *c.Engine.RiskPenalty)
	}
	if c.Session.CreepWindowMinutes >= c.Session.LengthMinutes {
		return fmt.Errorf("creep_window_minutes (%d) must be shorter than length_minutes (%d)",
			c.Session.CreepWindowMinutes, c.Session.LengthMinutes)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// applyEnvOverrides overwrites values with environment variables when set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CAPM_RISK_PENALTY"); v != "" {
		b, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CAPM_RISK_PENALTY: %w", err)
		}
		cfg.Engine.RiskPenalty = &b
	}
	if v := os.Getenv("CAPM_JOURNAL_DSN"); v != "" {
		cfg.Storage.JournalDSN = v
	}
	if v := os.Getenv("CAPM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	return nil
}

// setDefaults fills unset values.
func setDefaults(cfg *Config) {
	if cfg.Engine.RiskPenalty == nil {
		b := defaultRiskPenalty
		cfg.Engine.RiskPenalty = &b
	}
	if cfg.Engine.SyncMaxDelay <= 0 {
		cfg.Engine.SyncMaxDelay = 2
	}
	if cfg.Engine.MMMaxDelay <= 0 {
		cfg.Engine.MMMaxDelay = 5
	}
	if cfg.Engine.ReactiveMaxDelay <= 0 {
		cfg.Engine.ReactiveMaxDelay = 1
	}
	if cfg.Engine.OrdersPerSecond == 0 {
		cfg.Engine.OrdersPerSecond = 10
	}
	if cfg.Engine.OrderBurst <= 0 {
		cfg.Engine.OrderBurst = 5
	}
	if cfg.Session.LengthMinutes <= 0 {
		cfg.Session.LengthMinutes = 20
	}
	if cfg.Session.CreepWindowMinutes <= 0 {
		cfg.Session.CreepWindowMinutes = 2
	}
	if cfg.Session.CreepMinSpreadTicks <= 0 {
		cfg.Session.CreepMinSpreadTicks = 3
	}
	if cfg.Session.CreepMaxUnits <= 0 {
		cfg.Session.CreepMaxUnits = 4
	}
	if cfg.Storage.JournalDSN == "" {
		cfg.Storage.JournalDSN = "capmbot.db"
	}
	if cfg.Storage.JournalBuffer <= 0 {
		cfg.Storage.JournalBuffer = 1024
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = 30
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "capmbot"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
