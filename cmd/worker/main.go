// Command worker runs the cadence orchestration scheduler for one tenant
// scope: the cron jobs that advance and execute enrollments, the delivery
// tracking registry, the reconciliation passes, and the ops HTTP server
// (health, metrics, delivery webhooks).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/salesloop/go-outreach-backend/internal/channel"
	"github.com/salesloop/go-outreach-backend/internal/config"
	"github.com/salesloop/go-outreach-backend/internal/delivery"
	"github.com/salesloop/go-outreach-backend/internal/followup"
	httpapi "github.com/salesloop/go-outreach-backend/internal/http"
	"github.com/salesloop/go-outreach-backend/internal/observability"
	"github.com/salesloop/go-outreach-backend/internal/repo"
	"github.com/salesloop/go-outreach-backend/internal/retry"
	"github.com/salesloop/go-outreach-backend/internal/scheduler"
	"github.com/salesloop/go-outreach-backend/internal/services"
	"github.com/salesloop/go-outreach-backend/internal/sysutil"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", "outreach-worker").Logger()
	logger.Info().Str("version", version).Str("tenant", cfg.TenantID).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}

	registry := delivery.NewRegistry(db, logger, cfg.DeliveryTTL)
	registry.Start()

	provider := channel.NewProviderClient(channel.ProviderConfig{
		MessageURL:   cfg.Channel.MessageURL,
		EmailURL:     cfg.Channel.EmailURL,
		InterlockURL: cfg.Channel.InterlockURL,
		APIKey:       cfg.Channel.APIKey,
		Timeout:      cfg.Channel.Timeout,
	}, logger)

	var ctxGen services.ContextGenerator
	if cfg.SnippetsPath != "" {
		gen, err := followup.NewGenerator(db, logger, cfg.SnippetsPath, cfg.TenantID, cfg.FollowupThreshold)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SnippetsPath).Msg("failed to load follow-up corpus")
		}
		ctxGen = gen
	}

	loc := cfg.Location()
	engine := services.NewCadenceEngine(services.EngineDeps{
		DB:         db,
		Log:        logger,
		TenantID:   cfg.TenantID,
		Location:   loc,
		Interlock:  provider,
		ContextGen: ctxGen,
		Messages:   provider,
		Emails:     provider,
		Tracker:    registry,
		Retrier: retry.New(
			retry.WithInitialInterval(cfg.Retry.InitialInterval),
			retry.WithMaxInterval(cfg.Retry.MaxInterval),
			retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		),
		Limiter:        rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		BatchSize:      cfg.StepBatchSize,
		NurtureHorizon: cfg.Reconcile.NurtureHorizon,
	})

	reconciler := services.NewReconciler(services.ReconcilerDeps{
		DB:                db,
		Log:               logger,
		Tenant:            cfg.TenantID,
		Engine:            engine,
		RetryWindow:       cfg.Reconcile.RetryWindow,
		MaxRetries:        cfg.Reconcile.MaxRetries,
		StalePendingAfter: cfg.Reconcile.StalePendingAfter,
		FullSyncCooldown:  cfg.Reconcile.FullSyncCooldown,
	})

	sched := scheduler.NewCron(loc, logger)
	jobs := []struct {
		spec string
		name string
		fn   func(ctx context.Context)
	}{
		{cfg.Cron.DayAdvance, "day_advance", func(ctx context.Context) {
			if err := engine.AdvanceAllEnrollments(ctx); err != nil {
				logger.Error().Err(err).Msg("day advancement finished with errors")
			}
		}},
		{cfg.Cron.StepRun, "step_run", func(ctx context.Context) {
			if err := engine.RunDueActions(ctx); err != nil {
				logger.Error().Err(err).Msg("step execution finished with errors")
			}
		}},
		{cfg.Cron.FullSync, "full_sync", func(ctx context.Context) {
			if err := reconciler.RunFullSync(ctx); err != nil && !errors.Is(err, services.ErrSyncRunning) {
				logger.Error().Err(err).Msg("full sync finished with errors")
			}
		}},
		{cfg.Cron.QuickSync, "quick_sync", func(ctx context.Context) {
			if _, err := reconciler.RunQuickSync(ctx); err != nil {
				logger.Error().Err(err).Msg("quick sync failed")
			}
		}},
		{cfg.Cron.RetryFailed, "retry_failed", func(ctx context.Context) {
			if err := reconciler.RetryFailedActions(ctx); err != nil {
				logger.Error().Err(err).Msg("failed-action retry finished with errors")
			}
		}},
	}
	for _, j := range jobs {
		if err := sched.Register(j.spec, j.name, j.fn); err != nil {
			logger.Fatal().Err(err).Str("job", j.name).Str("spec", j.spec).Msg("invalid cron expression")
		}
	}
	sched.Start()

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, registry, cfg)
	srv := httpapi.NewServer(router, cfg)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched.Stop()
	registry.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("ops server shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("otel shutdown failed")
	}
	logger.Info().Msg("stopped")
}
