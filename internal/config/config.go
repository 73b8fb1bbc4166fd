package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/netsight/reconciled/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Detector DetectorConfig `yaml:"detector" mapstructure:"detector"`
	Sweep    SweepConfig    `yaml:"sweep" mapstructure:"sweep"`
	Quality  QualityConfig  `yaml:"quality" mapstructure:"quality"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP admin/ingest server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CatalogConfig points at the entity-type schema catalog.
type CatalogConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	DefaultType string `yaml:"default_type" mapstructure:"default_type"`
}

// DetectorConfig holds conflict-detection tunables. The comparison epsilon
// and thrashing window are deliberately configuration, not constants: what
// counts as "materially different" is deployment-specific.
type DetectorConfig struct {
	// NumericEpsilon is the relative tolerance for numeric value comparison.
	NumericEpsilon float64 `yaml:"numeric_epsilon" mapstructure:"numeric_epsilon"`
	// ClockSkewSecs bounds how far in the future observed_at may sit.
	ClockSkewSecs int `yaml:"clock_skew_secs" mapstructure:"clock_skew_secs"`
	// ThrashWindowSecs and ThrashThreshold classify a conflict as
	// timestamp_conflict when the authoritative value changed more than
	// ThrashThreshold times within the window.
	ThrashWindowSecs int `yaml:"thrash_window_secs" mapstructure:"thrash_window_secs"`
	ThrashThreshold  int `yaml:"thrash_threshold" mapstructure:"thrash_threshold"`
}

// ClockSkew returns the clock-skew tolerance as a duration.
func (c DetectorConfig) ClockSkew() time.Duration {
	return time.Duration(c.ClockSkewSecs) * time.Second
}

// ThrashWindow returns the thrash-detection window as a duration.
func (c DetectorConfig) ThrashWindow() time.Duration {
	return time.Duration(c.ThrashWindowSecs) * time.Second
}

// SweepConfig configures the background automatic-resolution sweep.
type SweepConfig struct {
	Enabled      bool           `yaml:"enabled" mapstructure:"enabled"`
	IntervalSecs int            `yaml:"interval_secs" mapstructure:"interval_secs"`
	Strategy     model.Strategy `yaml:"strategy" mapstructure:"strategy"`
	BatchSize    int            `yaml:"batch_size" mapstructure:"batch_size"`
}

// Interval returns the sweep interval as a duration.
func (c SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// QualityConfig configures the quality metric evaluator.
type QualityConfig struct {
	Enabled       bool                    `yaml:"enabled" mapstructure:"enabled"`
	IntervalSecs  int                     `yaml:"interval_secs" mapstructure:"interval_secs"`
	LookbackHours int                     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	MaxLagSecs    int                     `yaml:"max_lag_secs" mapstructure:"max_lag_secs"`
	Sources       map[string]SourceTuning `yaml:"sources" mapstructure:"sources"`
}

// SourceTuning holds per-source threshold overrides for the source-type
// specific metrics (timeliness, validity).
type SourceTuning struct {
	MaxLagSecs int `yaml:"max_lag_secs" mapstructure:"max_lag_secs"`
}

// Interval returns the evaluation interval as a duration.
func (c QualityConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Lookback returns the evaluation window as a duration.
func (c QualityConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// MaxLagFor returns the observation-lag threshold for a source, falling back
// to the global default when no override is configured.
func (c QualityConfig) MaxLagFor(sourceID string) time.Duration {
	if tuning, ok := c.Sources[sourceID]; ok && tuning.MaxLagSecs > 0 {
		return time.Duration(tuning.MaxLagSecs) * time.Second
	}
	return time.Duration(c.MaxLagSecs) * time.Second
}

// IngestConfig configures the concurrent observation ingest workers.
type IngestConfig struct {
	Workers        int     `yaml:"workers" mapstructure:"workers"`
	SourceRate     float64 `yaml:"source_rate" mapstructure:"source_rate"`
	SourceBurst    int     `yaml:"source_burst" mapstructure:"source_burst"`
	RetryAttempts  int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMS int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECONCILED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "reconciled.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("catalog.default_type", "device")
	v.SetDefault("detector.numeric_epsilon", 1e-6)
	v.SetDefault("detector.clock_skew_secs", 300)
	v.SetDefault("detector.thrash_window_secs", 600)
	v.SetDefault("detector.thrash_threshold", 3)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.interval_secs", 30)
	v.SetDefault("sweep.strategy", "priority_based")
	v.SetDefault("sweep.batch_size", 100)
	v.SetDefault("quality.enabled", true)
	v.SetDefault("quality.interval_secs", 300)
	v.SetDefault("quality.lookback_hours", 24)
	v.SetDefault("quality.max_lag_secs", 900)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.source_rate", 100)
	v.SetDefault("ingest.source_burst", 200)
	v.SetDefault("ingest.retry_attempts", 3)
	v.SetDefault("ingest.retry_backoff_ms", 250)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
