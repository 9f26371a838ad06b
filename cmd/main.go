/**
 * @description
 * This is the main entry point for the DANFE lookup service. Its responsibility
 * is to initialize all components and start the HTTP server, the message
 * consumer and the payment reconciliation scheduler.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Establishes and manages a connection pool to the PostgreSQL database.
 * - Initializes clients for external services (MeuDanfe, Evolution API, Mercado Pago).
 * - Wires up the core application logic with its dependencies.
 * - Starts the webhook server and implements graceful shutdown.
 *
 * @dependencies
 * - The service's internal packages for config, app logic, storage, and external clients.
 * - pgxpool for database connection, godotenv for local config, rabbitmq for
 *   messaging, go-redis for rate limiting and robfig/cron for scheduled jobs.
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

	"github.com/danfezap/danfe-service/internal/api"
	"github.com/danfezap/danfe-service/internal/app"
	"github.com/danfezap/danfe-service/internal/config"
	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/internal/store"
	"github.com/danfezap/danfe-service/pkg/danfeclient"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
	"github.com/danfezap/danfe-service/pkg/rabbitmq"
	"github.com/danfezap/danfe-service/pkg/whatsappclient"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// Establish database connection pool.
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 25
	dbConfig.MinConns = 5
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Optional Redis client for distributed rate limiting.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; lookup rate limiting disabled")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; lookup rate limiting disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed; lookup rate limiting disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			}
			cancel()
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// RabbitMQ producer for deferred outbound messages. A broker outage
	// degrades to inline no-op publishing rather than blocking startup.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq unavailable; outbound events disabled", "error", err)
		producer = &rabbitmq.NoopProducer{}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// External service clients.
	danfeClient := danfeclient.NewClient(cfg.MeuDanfeAPIBaseURL, cfg.MeuDanfeAPIKey)
	whatsappClient := whatsappclient.NewClient(cfg.EvolutionURL, cfg.EvolutionAPIKey, cfg.EvolutionInstance)
	mpClient := mercadopago.NewClient(cfg.MercadoPagoBaseURL, cfg.MercadoPagoToken)

	// Core application wiring.
	repo := store.NewPostgresRepository(dbpool)
	engine := app.NewEntitlementEngine(cfg.FreeLookups, cfg.MonthlyLookupLimit, cfg.SubscriptionDays)
	orchestrator := app.NewLookupOrchestrator(danfeClient, cfg.LookupMaxAttempts, cfg.LookupBackoffBaseSecs)
	limiter := app.NewRedisLookupRateLimiter(redisClient, "danfe:rate_limit")
	reconciler := app.NewPaymentReconciler(repo, engine, producer, cfg.MessageExchange)
	service := app.NewService(repo, engine, orchestrator, whatsappClient, mpClient, producer, limiter, app.ServiceConfig{
		SubscriptionCents:   cfg.SubscriptionCents,
		ChargeExpiry:        time.Duration(cfg.ChargeExpiryMinutes) * time.Minute,
		LookupRatePerMinute: cfg.LookupRatePerMinute,
		WebhookBaseURL:      cfg.WebhookBaseURL,
		MessageExchange:     cfg.MessageExchange,
	})

	// Outbound message consumer.
	messageHandler := app.NewMessageEventHandler(whatsappClient)
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; queued messages will not be delivered", "error", err)
	} else {
		defer consumer.Close()
		go func() {
			logger.Info("starting outbound message consumer", "queue", cfg.OutboundMessageQueue)
			bindings := map[string]func([]byte) bool{
				domain.OutboundMessageRoutingKey: messageHandler.HandleOutboundMessage,
			}
			if err := consumer.ConsumeWithBindings(cfg.MessageExchange, cfg.OutboundMessageQueue, bindings); err != nil {
				logger.Error("outbound message consumer stopped", "error", err)
			}
		}()
	}

	// Scheduled payment reconciliation sweep.
	jobs := app.NewJobs(repo, reconciler, mpClient, logger, time.Duration(cfg.ChargeExpiryMinutes)*time.Minute)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileSchedule)
	scheduler.Start()

	// HTTP server for webhooks and operational endpoints.
	handler := api.NewHandler(service, reconciler, mpClient, cfg.MercadoPagoSecret)
	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	logger.Info("danfe service is running with API, consumer and scheduler")

	// Wait for termination signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down danfe service")

	schedulerCtx := scheduler.Stop()
	<-schedulerCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	logger.Info("server gracefully stopped")
}
