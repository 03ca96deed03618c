package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/loopline-io/loopline/internal/calendar"
	"github.com/loopline-io/loopline/internal/channel"
	transpcloud "github.com/loopline-io/loopline/internal/channel/transports/cloud"
	transpsession "github.com/loopline-io/loopline/internal/channel/transports/session"
	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/handlers"
	"github.com/loopline-io/loopline/internal/ingest"
	"github.com/loopline-io/loopline/internal/jobs"
	"github.com/loopline-io/loopline/internal/logger"
	"github.com/loopline-io/loopline/internal/observability"
	"github.com/loopline-io/loopline/internal/outbound"
	"github.com/loopline-io/loopline/internal/server"
	"github.com/loopline-io/loopline/internal/webhook"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRegistry,
			provideMetrics,
			provideConventions,
			provideIngestService,
			provideRouter,
			provideJobStore,
			provideReminders,
			provideCron,
			handlers.NewPingHandler,
			provideSendHandler,
			provideRSVPHandler,
			provideWebhookHandler,
			provideServer,
		),
		fx.Invoke(
			startCron,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(cfg.Postgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

// provideRegistry registers the configured outbound transports. A transport
// missing its endpoint config is simply not registered; the router then
// records sends without delivery instead of failing.
func provideRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	if cfg.WhatsApp.Cloud.AccessToken != "" && cfg.WhatsApp.Cloud.PhoneNumberID != "" {
		registry.MustRegister(transpcloud.New(log, cfg.WhatsApp.Cloud))
	}
	if cfg.WhatsApp.Session.BaseURL != "" {
		registry.MustRegister(transpsession.New(log, cfg.WhatsApp.Session))
	}
	log.Info("transports registered", slog.Any("names", registry.Names()))
	return registry
}

func provideMetrics() (*observability.Metrics, prometheus.Gatherer) {
	registry := prometheus.NewRegistry()
	return observability.NewMetrics(registry), registry
}

func provideConventions(log *slog.Logger, pool *pgxpool.Pool) ingest.Conventions {
	return ingest.ResolveConventions(context.Background(), log, pool)
}

func provideIngestService(log *slog.Logger, pool *pgxpool.Pool, conv ingest.Conventions, metrics *observability.Metrics) *ingest.Service {
	return ingest.NewService(log, pool, conv, metrics)
}

func provideRouter(log *slog.Logger, pool *pgxpool.Pool, registry *channel.Registry, conv ingest.Conventions, metrics *observability.Metrics) *outbound.Router {
	return outbound.NewRouter(log, pool, registry, conv, metrics)
}

func provideJobStore(pool *pgxpool.Pool) *jobs.Store {
	return jobs.NewStore(pool)
}

func provideReminders(log *slog.Logger, pool *pgxpool.Pool, router *outbound.Router, cfg config.Config) *calendar.Reminders {
	return calendar.NewReminders(log, pool, router, cfg.Calendar)
}

func provideCron(log *slog.Logger, pool *pgxpool.Pool, store *jobs.Store, reminders *calendar.Reminders, cfg config.Config) *calendar.Cron {
	return calendar.NewCron(log, pool, store, reminders, cfg.Calendar)
}

func provideSendHandler(log *slog.Logger, router *outbound.Router) *handlers.SendHandler {
	return handlers.NewSendHandler(log, router)
}

func provideRSVPHandler(log *slog.Logger, pool *pgxpool.Pool) *handlers.RSVPHandler {
	return handlers.NewRSVPHandler(log, pool)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool, svc *ingest.Service, metrics *observability.Metrics) *webhook.Handler {
	return webhook.NewHandler(log, cfg.Meta, pool, svc, metrics)
}

func provideServer(log *slog.Logger, cfg config.Config, gatherer prometheus.Gatherer, ping *handlers.PingHandler, send *handlers.SendHandler, rsvp *handlers.RSVPHandler, wh *webhook.Handler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, gatherer, ping, send, rsvp, wh)
}

func startCron(lc fx.Lifecycle, c *calendar.Cron) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return c.Start() },
		OnStop:  func(ctx context.Context) error { c.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.Error("server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
