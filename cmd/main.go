/**
 * @description
 * Entry point for the directory payment-service.
 *
 * Wires the PayU signing client behind the rate-limited payment queue, the
 * checkout session manager, snapshot storage, audit repository, event producer
 * and housekeeping scheduler, then serves the checkout API until SIGINT/SIGTERM.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/directory/payment-service/internal/api"
	"github.com/directory/payment-service/internal/app"
	"github.com/directory/payment-service/internal/config"
	"github.com/directory/payment-service/internal/store"
	"github.com/directory/payment-service/pkg/payuclient"
	"github.com/directory/payment-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repository store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; checkout audit disabled\" env=DATABASE_URL")
	} else {
		pgConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			logger.Error("unable to parse database URL", "error", err)
			os.Exit(1)
		}
		pgConfig.MaxConns = 20
		pgConfig.MinConns = 2
		pgConfig.MaxConnLifetime = 30 * time.Minute
		pgConfig.MaxConnIdleTime = 5 * time.Minute
		pgConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(ctx, pgConfig)
		if err != nil {
			logger.Error("unable to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()
		logger.Info("database connection established")
		repository = store.NewPostgresRepository(dbpool)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; redis features disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; redis features disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	var snapshots store.SnapshotStore
	switch {
	case cfg.SnapshotBackend == config.SnapshotBackendRedis && redisClient != nil:
		snapshots = store.NewRedisSnapshotStore(redisClient, cfg.RedisKeyPrefix, cfg.SnapshotTTL())
	case cfg.SnapshotBackend == config.SnapshotBackendBolt:
		boltStore, err := store.NewBoltSnapshotStore(cfg.SnapshotDBPath)
		if err != nil {
			logger.Error("unable to open snapshot database", "path", cfg.SnapshotDBPath, "error", err)
			os.Exit(1)
		}
		defer boltStore.Close()
		snapshots = boltStore
	default:
		snapshots = store.NewMemorySnapshotStore()
	}
	logger.Info("snapshot store ready", "backend", fmt.Sprintf("%T", snapshots))

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.PaymentEventsExchange); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, using fallback publisher", "error", err)
		}
	}

	payu := payuclient.NewClient(cfg.PayUSigningURL, cfg.GatewayTimeout())
	queue := app.NewPaymentQueue(payu, app.QueueConfig{Interval: cfg.QueueInterval()}, logger)
	gateway := app.NewGatewayClient(app.GatewayConfig{
		Currency:             cfg.PaymentCurrency,
		AppBaseURL:           cfg.AppBaseURL,
		StandingInstructions: cfg.StandingInstructionsEnabled,
	}, queue, snapshots, logger)
	fallback := app.NewManualFallback(snapshots, repository, publisher, cfg.SupportEmail, logger)

	sessions := app.NewSessionManager(app.ControllerDeps{
		Gateway:  gateway,
		Fallback: fallback,
		Events:   publisher,
		Repo:     repository,
	}, app.ControllerConfig{
		Countdown:           cfg.RateLimitCountdown(),
		EscalationThreshold: cfg.FallbackEscalationThreshold,
	}, snapshots, logger)

	jobs := app.NewJobs(sessions, repository, cfg.SessionMaxIdle(), cfg.ManualRequestTTL(), logger)
	scheduler := app.NewScheduler(jobs, logger, app.ScheduleConfig{
		SessionSweep: cfg.SessionSweepSchedule,
		ManualExpiry: cfg.ManualExpirySchedule,
	})
	scheduler.Start()

	var limiter api.SubmitLimiter
	if redisClient != nil && cfg.SubmitRateLimitPerMinute > 0 {
		limiter = app.NewRedisSubmitLimiter(redisClient, cfg.RedisKeyPrefix, cfg.SubmitRateLimitPerMinute, time.Minute)
	}

	handler := api.NewHandler(sessions, queue, limiter)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:      cfg.SupabaseJWTSecret,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, gracefully shutting down")

	// Submit handlers block on the queue, so release them before draining HTTP.
	queueCtx, queueCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer queueCancel()
	if err := queue.Shutdown(queueCtx); err != nil {
		logger.Warn("payment queue did not drain before shutdown", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()
	sessions.CloseAll()

	logger.Info("server stopped")
}
