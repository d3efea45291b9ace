package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bumplink/internal/config"
	"bumplink/internal/handler"
	"bumplink/internal/messaging"
	"bumplink/internal/middleware"
	"bumplink/internal/observability"
	"bumplink/internal/repository/postgres"
	"bumplink/internal/security"
	"bumplink/internal/service"
	"bumplink/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting match server")

	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.PingContext(connCtx); err != nil {
		slog.Error("database ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to postgresql")

	rmqCtx, rmqCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer rmqCancel()

	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	contactRepo := postgres.NewContactRepository(db)

	registry := service.NewPairingRegistry(cfg.PairingWindow, cfg.RegistryCapacity, security.NewTokenManager())

	hub := websocket.NewHub()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go func() {
		if err := hub.Run(hubCtx); err != nil && err != context.Canceled {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	exchangeService := service.NewExchangeService(contactRepo, registry, rmq, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiptConsumer := messaging.NewReceiptConsumer(rmq, hub)
	if err := receiptConsumer.Start(ctx); err != nil {
		slog.Error("failed to start receipt consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("receipt consumer started")

	exchangeHandler := handler.NewExchangeHandler(exchangeService, hub)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(middleware.ParseOrigins(cfg.AllowedOrigins)))
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig()))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, rmq))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		handshakeLimiter := middleware.NewRateLimiter(5, 10)
		contactLimiter := middleware.NewRateLimiter(20, 50)

		r.Group(func(r chi.Router) {
			r.Use(handshakeLimiter.Middleware())
			r.Post("/matches/accept", exchangeHandler.Accept)
			r.Post("/matches/reject", exchangeHandler.Reject)
		})

		r.Group(func(r chi.Router) {
			r.Use(contactLimiter.Middleware())
			r.Post("/contacts", exchangeHandler.SaveContact)
			r.Get("/contacts", exchangeHandler.ListContacts)
			r.Get("/contacts/{id}", exchangeHandler.GetContact)
			r.Delete("/contacts/{id}", exchangeHandler.DeleteContact)
		})
	})

	// Sessions identify themselves with their first envelope, so the
	// upgrade itself carries no parameters
	r.Get("/ws/exchange", exchangeHandler.HandleChannel)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("match server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	hubCancel()
	registry.Stop()

	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}
