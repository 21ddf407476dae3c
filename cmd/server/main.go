package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirdesai22/dlq-service/internal/api"
	"github.com/sirdesai22/dlq-service/internal/app"
	"github.com/sirdesai22/dlq-service/internal/config"
	"github.com/sirdesai22/dlq-service/internal/logging"
	"github.com/sirdesai22/dlq-service/internal/metrics"
	"github.com/sirdesai22/dlq-service/internal/workers"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newApp,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(metrics.Register),
		fx.Invoke(startRetryWorker),
		fx.Invoke(startHTTPServer),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return logging.Sync(log) },
	})
	return log, nil
}

func newApp(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*app.App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout+10*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return a.Close() },
	})
	return a, nil
}

func startRetryWorker(lc fx.Lifecycle, cfg *config.Config, a *app.App, log *zap.Logger) {
	if !cfg.Worker.Enabled {
		log.Info("retry worker disabled")
		return
	}
	w := workers.NewRetryWorker(a.Queue, cfg.Worker, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				w.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, a *app.App, log *zap.Logger, shutdowner fx.Shutdowner) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(api.NewHandler(a.Queue, log), cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("admin API listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin API failed, shutting down", zap.Error(err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
