// Package config loads runtime configuration from defaults, an optional
// config file and INVENTORY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// INVENTORY_STORAGE_DRIVER or INVENTORY_BLOB_S3_BUCKET.
const EnvPrefix = "INVENTORY"

// Config is the full application configuration.
type Config struct {
	Storage    Storage    `mapstructure:"storage"`
	Blob       Blob       `mapstructure:"blob"`
	Stream     Stream     `mapstructure:"stream"`
	Dispatcher Dispatcher `mapstructure:"dispatcher"`
	Log        Log        `mapstructure:"log"`
	Metrics    string     `mapstructure:"metrics"`
}

// Storage selects the task store backend.
type Storage struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Blob selects the blob store used for exports.
type Blob struct {
	Driver string `mapstructure:"driver"`
	FSRoot string `mapstructure:"fs_root"`
	S3     S3     `mapstructure:"s3"`
}

// S3 holds S3 / MinIO connection settings.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Stream configures live task feeds.
type Stream struct {
	IdleWindow time.Duration `mapstructure:"idle_window"`
}

// Dispatcher configures the background write queue.
type Dispatcher struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Metrics exporters.
const (
	MetricsNone       = "none"
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

var defaults = map[string]any{
	"storage.driver":            "sqlite",
	"storage.sqlite_path":       "./inventory.db",
	"storage.postgres_dsn":      "",
	"blob.driver":               "fs",
	"blob.fs_root":              "./blobdata",
	"blob.s3.bucket":            "",
	"blob.s3.region":            "us-east-1",
	"blob.s3.endpoint":          "",
	"blob.s3.prefix":            "",
	"blob.s3.access_key_id":     "",
	"blob.s3.secret_access_key": "",
	"blob.s3.use_path_style":    false,
	"stream.idle_window":        "5s",
	"dispatcher.workers":        2,
	"dispatcher.queue_size":     64,
	"log.level":                 "info",
	"log.format":                "text",
	"metrics":                   MetricsNone,
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	cfg, err := load(newViper())
	if err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads configuration. path is optional; when set the file must exist.
// Environment variables override file values, which override defaults.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Metrics = strings.ToLower(strings.TrimSpace(c.Metrics))
	if c.Metrics == "" {
		c.Metrics = MetricsNone
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket: required when blob.driver is s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver: unknown driver %q", c.Blob.Driver))
	}
	if c.Stream.IdleWindow < 0 {
		errs = append(errs, errors.New("stream.idle_window: must not be negative"))
	}
	if c.Dispatcher.Workers < 1 {
		errs = append(errs, errors.New("dispatcher.workers: must be at least 1"))
	}
	if c.Dispatcher.QueueSize < 1 {
		errs = append(errs, errors.New("dispatcher.queue_size: must be at least 1"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("metrics: unknown exporter %q", c.Metrics))
	}
	return errors.Join(errs...)
}
