// Package config holds lexlink's runtime settings and loads them from
// defaults, a YAML file and LEXLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. LEXLINK_DATABASE_PATH.
const EnvPrefix = "LEXLINK"

// Config is the complete configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Linking  LinkingConfig  `yaml:"linking" mapstructure:"linking"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig selects the storage backends. Spans go to PostgreSQL when
// PostgresDSN is set; the catalog always lives in SQLite.
type DatabaseConfig struct {
	Path        string `yaml:"path" mapstructure:"path"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty" mapstructure:"postgres_dsn"`
}

// LinkingConfig tunes the link manager.
type LinkingConfig struct {
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	PersistTimeout time.Duration `yaml:"persist_timeout" mapstructure:"persist_timeout"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	LexiconTTL     time.Duration `yaml:"lexicon_ttl" mapstructure:"lexicon_ttl"`
}

// IngestConfig tunes document ingestion and article fetching.
type IngestConfig struct {
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "lexlink.db"},
		Linking: LinkingConfig{
			Workers:        4,
			PersistTimeout: 5 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
			LexiconTTL:     10 * time.Minute,
		},
		Ingest: IngestConfig{
			BatchSize:         50,
			Workers:           4,
			UserAgent:         "lexlink/1.0 (+https://github.com/japaniel/lexlink)",
			RequestsPerSecond: 1,
			MaxBodyBytes:      10 * 1024 * 1024,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers every key of DefaultConfig with v, so that
// environment variables are picked up by Unmarshal even when no config file
// mentions the key.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.postgres_dsn", d.Database.PostgresDSN)
	v.SetDefault("linking.workers", d.Linking.Workers)
	v.SetDefault("linking.persist_timeout", d.Linking.PersistTimeout)
	v.SetDefault("linking.max_attempts", d.Linking.MaxAttempts)
	v.SetDefault("linking.initial_backoff", d.Linking.InitialBackoff)
	v.SetDefault("linking.lexicon_ttl", d.Linking.LexiconTTL)
	v.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	v.SetDefault("ingest.workers", d.Ingest.Workers)
	v.SetDefault("ingest.user_agent", d.Ingest.UserAgent)
	v.SetDefault("ingest.requests_per_second", d.Ingest.RequestsPerSecond)
	v.SetDefault("ingest.max_body_bytes", d.Ingest.MaxBodyBytes)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// BindEnv makes v read LEXLINK_SECTION_KEY variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the configuration held by v and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML document over the defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns all problems found, joined.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Linking.Workers < 1 {
		errs = append(errs, fmt.Errorf("linking.workers must be at least 1, got %d", c.Linking.Workers))
	}
	if c.Linking.PersistTimeout <= 0 {
		errs = append(errs, fmt.Errorf("linking.persist_timeout must be positive, got %s", c.Linking.PersistTimeout))
	}
	if c.Linking.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("linking.max_attempts must be at least 1, got %d", c.Linking.MaxAttempts))
	}
	if c.Linking.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("linking.initial_backoff must not be negative, got %s", c.Linking.InitialBackoff))
	}
	if c.Linking.LexiconTTL < 0 {
		errs = append(errs, fmt.Errorf("linking.lexicon_ttl must not be negative, got %s", c.Linking.LexiconTTL))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be at least 1, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers))
	}
	if c.Ingest.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ingest.requests_per_second must not be negative, got %g", c.Ingest.RequestsPerSecond))
	}
	if c.Ingest.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("ingest.max_body_bytes must be positive, got %d", c.Ingest.MaxBodyBytes))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel maps Level to a slog level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", l.Level)
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
