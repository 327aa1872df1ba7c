package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safereport_backend/internal/cases"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/email"
	"safereport_backend/internal/events"
	apphttp "safereport_backend/internal/http"
	"safereport_backend/internal/http/router"
	"safereport_backend/internal/ledger"
	"safereport_backend/internal/notification"
	"safereport_backend/internal/notification/outbox"
	"safereport_backend/migrations"
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
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var (
		store       repository.Store
		outboxStore repository.OutboxStore
		health      apphttp.HealthChecker
	)
	if cfg.UsesMemoryStore() {
		mem := repository.NewMemory()
		store, outboxStore = mem, mem
		log.Warn("using in-memory case store; data is lost on restart")
	} else {
		pool := connectPostgres(ctx, cfg, log)
		defer pool.Close()

		cipher, err := fieldcrypt.New(cfg.GetFieldEncryptionSecret())
		if err != nil {
			log.Error("failed to initialize field encryption", "error", err)
			panic("failed to initialize field encryption: " + err.Error())
		}
		store = repository.NewPostgres(pool, cipher)
		outboxStore = outbox.New(pool)
		health = pool
	}

	eventBus := events.NewInMemoryBus(log)
	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}
	recorder := ledger.NewRecorder(cfg, log)
	if !cfg.IsLedgerEnabled() {
		log.Warn("LEDGER_URL not configured; ledger notarization disabled")
	}

	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	casesModule := cases.NewModule(store, eventBus, cfg, val, log)
	casesModule.SetMetrics(appMetrics)

	// Notification module subscribes to committed transitions (not HTTP-facing)
	notificationModule := notification.New(outboxStore, sender, recorder, casesModule.Service(), cfg, log)
	notificationModule.SetMetrics(appMetrics)
	notificationModule.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  health,
		Metrics: prometheus.DefaultGatherer,
		Modules: []apphttp.Module{casesModule},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		// Let in-flight side effects finish before the process exits.
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) *pgxpool.Pool {
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
	log.Info("database connection established")

	if cfg.MigrationsEnabled {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, pool, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}
	return pool
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
