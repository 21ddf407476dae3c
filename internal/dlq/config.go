package dlq

import (
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// MaxRetries is the default per-entry retry ceiling.
	MaxRetries int
	// BaseDelay is both the initial delay after insert and the backoff base.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff step. Zero means uncapped.
	MaxDelay      time.Duration
	RetentionDays int
	// Concurrency bounds the handlers running at once within one batch.
	Concurrency    int
	HandlerTimeout time.Duration
	// RecentFailuresLimit is the N of the top-N recent failure summary.
	RecentFailuresLimit int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:          5,
		BaseDelay:           60 * time.Second,
		MaxDelay:            24 * time.Hour,
		RetentionDays:       7,
		Concurrency:         4,
		HandlerTimeout:      30 * time.Second,
		RecentFailuresLimit: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < 0 {
		c.MaxDelay = 0
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.RecentFailuresLimit <= 0 {
		c.RecentFailuresLimit = d.RecentFailuresLimit
	}
	return c
}

type Option func(*Queue)

func WithLogger(log *zap.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithClock replaces time.Now; the returned time is converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithRegistry shares a registry between queues, mostly useful in tests.
func WithRegistry(r *Registry) Option {
	return func(q *Queue) { q.registry = r }
}
