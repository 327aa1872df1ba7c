package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safereport_backend/internal/cases"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/email"
	"safereport_backend/internal/events"
	"safereport_backend/internal/ledger"
	"safereport_backend/internal/notification"
	"safereport_backend/internal/notification/outbox"
	"safereport_backend/internal/scheduler"
	"safereport_backend/platform/config"
	"safereport_backend/platform/db"
	"safereport_backend/platform/fieldcrypt"
	"safereport_backend/platform/logger"
	"safereport_backend/platform/metrics"
	"safereport_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	if cfg.UsesMemoryStore() {
		panic("scheduler requires the postgres store; STORE_DRIVER=memory is not shared between processes")
	}
	if cfg.GetRedisURL() == "" {
		panic("REDIS_URL is required for the scheduler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	cipher, err := fieldcrypt.New(cfg.GetFieldEncryptionSecret())
	if err != nil {
		log.Error("failed to initialize field encryption", "error", err)
		panic("failed to initialize field encryption: " + err.Error())
	}
	store := repository.NewPostgres(pool, cipher)
	outboxStore := outbox.New(pool)

	eventBus := events.NewInMemoryBus(log)
	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	// Worker-side lifecycle wiring (no HTTP handlers required).
	casesModule := cases.NewModule(store, eventBus, cfg, validator.New(), log)
	casesModule.SetMetrics(appMetrics)

	notificationModule := notification.New(outboxStore, sender, ledger.NewRecorder(cfg, log), casesModule.Service(), cfg, log)
	notificationModule.SetMetrics(appMetrics)
	notificationModule.RegisterHandlers(eventBus)

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	relay := scheduler.NewOutboxRelay(outboxStore, client, log, 0, cfg.GetOutboxRedeliveryAfter())
	relay.SetMetrics(appMetrics)
	go relay.Run(ctx)

	sweeper := scheduler.NewAutoCloseSweeper(casesModule.Service(), client, log, cfg.GetAutoCloseInterval(), cfg.GetAutoCloseEnabled())
	go sweeper.Run(ctx)
	log.Info("auto-close sweep started", "interval", cfg.GetAutoCloseInterval(), "all_cases", cfg.GetAutoCloseEnabled())

	worker, err := scheduler.NewWorker(cfg, outboxStore, notificationModule, casesModule.Service(), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
