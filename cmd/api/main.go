// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/config"
	"github.com/brokercrm/chat-ingest/internal/handler"
	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/middleware"
	"github.com/brokercrm/chat-ingest/internal/mirror"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/notify"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
	"github.com/brokercrm/chat-ingest/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-ingest", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Initialize the authoritative store. Initialization is lazy and
	// retryable, so a database that is still starting up does not
	// prevent the server from accepting webhooks.
	st := store.NewPostgres(cfg.PostgresDSN, log)
	if err := st.Ready(ctx); err != nil {
		log.Warn("postgres not ready yet, will retry on demand", zap.Error(err))
	}

	// Redis mirror for conversation read models.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	mr := mirror.NewRedis(rdb, log)

	// Connect to NATS for change notifications. Notifications are
	// best-effort, so a failed connection degrades to a no-op.
	var notifier notify.Notifier
	natsNotifier, err := notify.Connect(cfg.NATSURL, cfg.NATSToken, log)
	if err != nil {
		log.Warn("failed to connect to NATS, notifications disabled", zap.Error(err))
		notifier = notify.Nop{}
	} else {
		defer natsNotifier.Close()
		notifier = natsNotifier
	}

	// LINE channel credentials live in the settings table.
	creds := line.NewCredentials(st.GetSetting, model.SettingChannelSecret, model.SettingChannelToken)
	lineClient := line.NewHTTPClient(creds, log)
	verifier := line.NewSignatureVerifier(creds, cfg.DevBypassAllowed(), log)

	// Initialize services
	identitySvc := service.NewIdentityService(st, lineClient, log)
	ingestSvc := service.NewIngestService(st, mr, identitySvc, notifier, log)
	feedSvc := service.NewFeedService(st, log)
	outboundSvc := service.NewOutboundService(st, ingestSvc, lineClient, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(st)
	webhookHandler := handler.NewWebhookHandler(verifier, ingestSvc, log)
	conversationHandler := handler.NewConversationHandler(st, ingestSvc, outboundSvc, log)
	pollHandler := handler.NewPollHandler(feedSvc, cfg.PollCheckInterval, cfg.PollMaxTimeout, log)
	incrementalHandler := handler.NewIncrementalHandler(feedSvc, log)
	customerHandler := handler.NewCustomerHandler(st, log)
	adminHandler := handler.NewAdminHandler(st, ingestSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Webhook endpoint authenticates with the channel signature, not JWT.
	r.Post("/webhook/line", webhookHandler.Receive)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/conversation", conversationHandler.Messages)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/{handle}/read", conversationHandler.MarkRead)
			r.Post("/{handle}/messages", conversationHandler.Send)
		})

		r.Get("/poll", pollHandler.Poll)
		r.Get("/incremental", incrementalHandler.Get)

		r.Get("/customers", customerHandler.Lookup)
		r.Get("/customers/{id}", customerHandler.Get)
		r.Get("/leads", customerHandler.Leads)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))
			r.Post("/mirror/rebuild", adminHandler.RebuildMirror)
			r.Put("/settings", adminHandler.UpdateSettings)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
