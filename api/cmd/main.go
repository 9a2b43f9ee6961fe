package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lingkarclub/access-engine/internal/audit"
	"github.com/lingkarclub/access-engine/internal/config"
	"github.com/lingkarclub/access-engine/internal/infrastructure/postgres"
	"github.com/lingkarclub/access-engine/internal/infrastructure/rabbitmq"
	"github.com/lingkarclub/access-engine/internal/infrastructure/redis"
	"github.com/lingkarclub/access-engine/internal/pkg/logger"
	"github.com/lingkarclub/access-engine/internal/security"
	"github.com/lingkarclub/access-engine/internal/service"
	"github.com/lingkarclub/access-engine/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// logger reads LOG_LEVEL from env; make cfg.LogLevel take effect
	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "access-engine").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)
	repo.StartMaintenance(rootCtx)

	// ---- Redis ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; the cache is an accelerator, not a dependency
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Application service ----
	auditLog := audit.New(logger.Logger)
	svc := service.NewAccessService(repo, repo, cache, auditLog)
	h := rest.NewHandler(svc)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Cache:     cache,
		Handler:   h,
		Verifier:  verifier,
		JWTIssuer: cfg.JWTIssuer,

		RateLimitEnabled: cfg.RLEnabled,
		RateLimitMax:     cfg.RLLimit,
		RateLimitWindow:  cfg.RLWindow,
	})

	// ---- MQ consumer (inbound gathering/drop/account snapshots) ----
	if cfg.ConsumerEnabled {
		mqConsumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.CurationExchange, repo, cache, auditLog)
		if err := mqConsumer.Start(rootCtx); err != nil {
			log.Warn().Err(err).Msg("snapshot consumer failed to start (continuing)")
		}
	}

	// ---- Outbox worker (outbound pass.* events) ----
	if cfg.OutboxEnabled {
		repo.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.PassExchange, auditLog)
		log.Info().Msg("outbox worker started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
