package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string         `mapstructure:"env"`
	Database DatabaseConfig `mapstructure:"database"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Elastic  ElasticConfig  `mapstructure:"elastic"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver         string        `mapstructure:"driver"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DLQConfig struct {
	MaxRetries          int           `mapstructure:"max_retries"`
	BaseDelay           time.Duration `mapstructure:"base_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	RetentionDays       int           `mapstructure:"retention_days"`
	Concurrency         int           `mapstructure:"concurrency"`
	HandlerTimeout      time.Duration `mapstructure:"handler_timeout"`
	RecentFailuresLimit int           `mapstructure:"recent_failures_limit"`
}

type WorkerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	StalledAfter    time.Duration `mapstructure:"stalled_after"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ElasticConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.connect_timeout", 30*time.Second)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("sqlite.path", "dlq.db")

	v.SetDefault("dlq.max_retries", 5)
	v.SetDefault("dlq.base_delay", 60*time.Second)
	v.SetDefault("dlq.max_delay", 24*time.Hour)
	v.SetDefault("dlq.retention_days", 7)
	v.SetDefault("dlq.concurrency", 4)
	v.SetDefault("dlq.handler_timeout", 30*time.Second)
	v.SetDefault("dlq.recent_failures_limit", 10)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.retry_interval", 30*time.Second)
	v.SetDefault("worker.cleanup_interval", time.Hour)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.stalled_after", 10*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("elastic.url", "http://localhost:9200")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.session_ttl", 24*time.Hour)
}

// Load reads .env (if present), an optional CONFIG_FILE and the environment.
// Environment keys are the config keys upper-cased with "." replaced by "_",
// e.g. DLQ_MAX_RETRIES or POSTGRES_DSN. An empty ELASTIC_URL or REDIS_ADDR
// turns that backend off.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file [%s]: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required when database.driver=postgres"))
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required when database.driver=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	if c.DLQ.MaxRetries < 1 {
		errs = append(errs, errors.New("dlq.max_retries must be at least 1"))
	}
	if c.DLQ.BaseDelay <= 0 {
		errs = append(errs, errors.New("dlq.base_delay must be positive"))
	}
	if c.DLQ.RetentionDays < 1 {
		errs = append(errs, errors.New("dlq.retention_days must be at least 1"))
	}
	if c.DLQ.Concurrency < 1 {
		errs = append(errs, errors.New("dlq.concurrency must be at least 1"))
	}
	if c.Worker.Enabled && (c.Worker.RetryInterval <= 0 || c.Worker.CleanupInterval <= 0) {
		errs = append(errs, errors.New("worker.retry_interval and worker.cleanup_interval must be positive"))
	}
	if c.Worker.Enabled && c.Worker.StalledAfter > 0 && c.Worker.StalledAfter <= c.DLQ.HandlerTimeout {
		errs = append(errs, fmt.Errorf("worker.stalled_after (%s) must exceed dlq.handler_timeout (%s)",
			c.Worker.StalledAfter, c.DLQ.HandlerTimeout))
	}
	if c.Worker.BatchSize < 1 {
		errs = append(errs, errors.New("worker.batch_size must be at least 1"))
	}
	return errors.Join(errs...)
}
