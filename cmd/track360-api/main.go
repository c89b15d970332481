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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	authhandler "github.com/track360/track360-backend/internal/auth/handler"
	authservice "github.com/track360/track360-backend/internal/auth/service"
	"github.com/track360/track360-backend/internal/media"
	"github.com/track360/track360-backend/internal/video/consumers"
	"github.com/track360/track360-backend/internal/video/events"
	"github.com/track360/track360-backend/internal/video/handler"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/internal/video/service"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/messaging"
	"github.com/track360/track360-backend/pkg/metrics"
)

const serviceName = "track360-api"

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(serviceName, cfg.Server.Environment, logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log.Info().Str("store", cfg.Store.Driver).Str("media", cfg.Media.Provider).Msg("starting Track360 API")

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store
	store, closeStore, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare store schema")
	}

	mediaStore, err := media.NewStore(ctx, &cfg.Media, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure media store")
	}

	// RabbitMQ is optional. Without it no events are published and no
	// detection results are consumed.
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.VideoEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewVideoEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}

		detectionConsumer, err := consumers.NewDetectionEventConsumer(rmq, store, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create detection event consumer")
		}
		if err := detectionConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start detection event consumer")
		}
	}

	// Services
	ingestionService := service.NewIngestionService(store, mediaStore, publisher, &cfg.Media, log)
	promotionService := service.NewPromotionService(store, mediaStore, publisher, &cfg.Media, log)
	aggregationService := service.NewAggregationService(store, log)
	authService := authservice.NewAuthService(&cfg.Auth, log)

	// Handlers
	uploadHandler := handler.NewUploadHandler(ingestionService, promotionService, mediaStore, &cfg.Media, log)
	dashboardHandler := handler.NewDashboardHandler(aggregationService, log)
	authHandler := authhandler.NewAuthHandler(authService, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"store":   store.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", authHandler.Login)
		handler.Register(r, uploadHandler, dashboardHandler)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers before draining HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
