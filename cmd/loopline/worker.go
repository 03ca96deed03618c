package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/loopline-io/loopline/internal/calendar"
	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/contentgen"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/email"
	emailmailgun "github.com/loopline-io/loopline/internal/email/adapters/mailgun"
	emailsmtp "github.com/loopline-io/loopline/internal/email/adapters/smtp"
	"github.com/loopline-io/loopline/internal/jobs"
	"github.com/loopline-io/loopline/internal/jobs/queues"
	"github.com/loopline-io/loopline/internal/logger"
	"github.com/loopline-io/loopline/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runWorker serves all six queues in one process: claim loops stop on
// SIGINT/SIGTERM, in-flight jobs get the configured drain window, and an
// overrun forces a non-zero exit so the supervisor restarts cleanly and
// stale-claim redelivery picks the abandoned work back up.
func runWorker() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.L.With(slog.String("service", "worker"))

	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		log.Error("db connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metricsRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(metricsRegistry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.Queues.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	defer metricsServer.Close()

	emailRegistry := email.NewRegistry(cfg.Email.Provider)
	if cfg.Email.Mailgun.APIKey != "" {
		if err := emailRegistry.Register(emailmailgun.New(log, cfg.Email.Mailgun)); err != nil {
			log.Error("register mailgun", slog.Any("error", err))
		}
	}
	if cfg.Email.SMTP.Host != "" {
		if err := emailRegistry.Register(emailsmtp.New(log, cfg.Email.SMTP)); err != nil {
			log.Error("register smtp", slog.Any("error", err))
		}
	}
	mailer := email.NewService(log, pool, emailRegistry, cfg.Email.From)
	gen := contentgen.New(cfg.Generation)
	store := jobs.NewStore(pool)

	processors := map[string]jobs.Processor{
		jobs.QueueEmailSend:    queues.EmailSend(mailer),
		jobs.QueueRender:       queues.Render(pool, gen),
		jobs.QueueBilling:      queues.Billing(log, pool, mailer),
		jobs.QueueCalendarTick: queues.CalendarTick(pool),
		jobs.QueueRepurpose:    queues.Repurpose(pool, gen),
		jobs.QueueAlerts:       queues.Alerts(log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var workers []*jobs.Worker
	var wg sync.WaitGroup
	for queue, process := range processors {
		worker := jobs.NewWorker(log, store, queue,
			jobs.ResolveQueueConfig(queue, cfg.Queues.Overrides),
			cfg.Queues.PollInterval.Std(), process, metrics)
		workers = append(workers, worker)
		wg.Add(1)
		go func(w *jobs.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(worker)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	wg.Wait()

	timeout := cfg.Queues.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for _, worker := range workers {
		remaining := time.Until(deadline)
		if remaining <= 0 || !worker.Drain(remaining) {
			log.Error("drain timeout exceeded, forcing exit")
			os.Exit(1)
		}
	}
	log.Info("worker stopped cleanly")
}

// runSweep runs the no-show sweep once, for operational use and cron-free
// deployments.
func runSweep() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		logger.L.Error("db connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	affected, err := calendar.SweepNoShows(ctx, pool, cfg.Calendar.GraceMinutes, time.Now().UTC())
	if err != nil {
		logger.L.Error("sweep failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.L.Info("sweep complete", slog.Int64("transitioned", affected))
}

func runMigrate() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err := db.Migrate(cfg.Postgres); err != nil {
		logger.L.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.L.Info("migrations applied")
}
