// Package app assembles the DLQ and the backend adapters that feed it.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirdesai22/dlq-service/internal/cache"
	"github.com/sirdesai22/dlq-service/internal/config"
	"github.com/sirdesai22/dlq-service/internal/db"
	"github.com/sirdesai22/dlq-service/internal/dlq"
	"github.com/sirdesai22/dlq-service/internal/elastic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type App struct {
	Cfg   *config.Config
	Log   *zap.Logger
	Queue *dlq.Queue
	// Search and Sessions are nil when their backend is not configured.
	Search   *elastic.Writer
	Sessions *cache.SessionCache

	redis *redis.Client
}

func QueueConfig(c config.DLQConfig) dlq.Config {
	return dlq.Config{
		MaxRetries:          c.MaxRetries,
		BaseDelay:           c.BaseDelay,
		MaxDelay:            c.MaxDelay,
		RetentionDays:       c.RetentionDays,
		Concurrency:         c.Concurrency,
		HandlerTimeout:      c.HandlerTimeout,
		RecentFailuresLimit: c.RecentFailuresLimit,
	}
}

// NewQueue connects to the store and creates the schema. No retry handlers
// are registered.
func NewQueue(ctx context.Context, cfg *config.Config, log *zap.Logger) (*dlq.Queue, error) {
	gdb, err := db.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	q := dlq.New(gdb, QueueConfig(cfg.DLQ), dlq.WithLogger(log))
	if err := q.Initialize(ctx); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

// New builds the queue and every configured backend adapter, registering
// their retry handlers before returning.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	q, err := NewQueue(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, Queue: q}

	if cfg.Elastic.URL != "" {
		client, err := elastic.Connect(cfg.Elastic.URL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Search = elastic.NewWriter(client, q, log)
		a.Search.RegisterHandlers()
		// unreachable at startup is fine, writes go to the DLQ until it is back
		if err := elastic.EnsureIndexes(ctx, client); err != nil {
			log.Warn("could not ensure elasticsearch indexes", zap.Error(err))
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		a.Sessions = cache.NewSessionCache(client, q, cfg.Redis.SessionTTL, log)
		a.Sessions.RegisterHandlers()
	}

	log.Info("dlq handlers registered", zap.Strings("handlers", q.Handlers()))
	return a, nil
}

func (a *App) Close() error {
	var err error
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	return multierr.Append(err, a.Queue.Close())
}
