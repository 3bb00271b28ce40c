package main

import (
	"alcyxob/fitness-sessions/internal/api"
	"alcyxob/fitness-sessions/internal/cache"
	"alcyxob/fitness-sessions/internal/config"
	"alcyxob/fitness-sessions/internal/events"
	"alcyxob/fitness-sessions/internal/meeting"
	"alcyxob/fitness-sessions/internal/recurrence"
	"alcyxob/fitness-sessions/internal/repository/memory"
	"alcyxob/fitness-sessions/internal/repository/mongo"
	"alcyxob/fitness-sessions/internal/service"
	"alcyxob/fitness-sessions/internal/storage"
	"alcyxob/fitness-sessions/internal/telemetry"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// @title Live Session Scheduling API
// @version 1.0
// @description API for scheduling live training sessions and admitting clients into them.
// @contact.name API Support
// @contact.email support@example.com
// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("could not load config", "error", err)
		os.Exit(1)
	}
	telemetry.SetupGlobalHandler(cfg.Telemetry.ServiceName, cfg.Telemetry.LogLevel)
	slog.Info("starting scheduling server", "driver", cfg.Database.Driver, "address", cfg.Server.Address)

	ctx := context.Background()

	// --- Tracing ---
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("failed to shut down tracer provider", "error", err)
		}
	}()

	deps := service.Dependencies{
		Metrics:     telemetry.NewMetrics(prometheus.DefaultRegisterer),
		TrainerView: cache.NewTrainerView(cfg.Scheduling.TrainerCacheSize, cfg.Scheduling.TrainerCacheTTL),
	}

	// --- Repositories ---
	switch cfg.Database.Driver {
	case "memory":
		slog.Warn("using in-memory storage, data will not survive a restart")
		deps.Store = memory.NewSessionStore()
		deps.Users = memory.NewUserRepository()
		deps.Packages = memory.NewPackageRepository()
	default:
		dbClient, err := mongo.ConnectDB(cfg.Database.URI)
		if err != nil {
			slog.Error("could not connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer func() {
			slog.Info("disconnecting MongoDB")
			if err := mongo.DisconnectDB(dbClient); err != nil {
				slog.Error("failed to disconnect MongoDB", "error", err)
			}
		}()
		appDB := dbClient.Database(cfg.Database.Name)

		// The active-enrollment index backs client exclusivity, so start-up waits for it.
		indexCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err = mongo.EnsureIndexes(indexCtx, appDB)
		cancel()
		if err != nil {
			slog.Error("could not ensure indexes", "error", err)
			os.Exit(1)
		}

		deps.Store = mongo.NewMongoSessionStore(appDB)
		deps.Users = mongo.NewMongoUserRepository(appDB)
		deps.Packages = mongo.NewMongoPackageRepository(appDB)
	}

	// --- Recurrence ---
	loc, err := cfg.Scheduling.Location()
	if err != nil {
		slog.Error("invalid scheduling timezone", "timezone", cfg.Scheduling.Timezone, "error", err)
		os.Exit(1)
	}
	deps.Expander = recurrence.NewExpander(loc, cfg.Scheduling.MaxOccurrences)

	// --- Event bus and meeting links ---
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
		if err != nil {
			slog.Error("could not connect to NATS", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer func() {
			slog.Info("draining NATS connection")
			if err := nc.Drain(); err != nil {
				slog.Error("failed to drain NATS connection", "error", err)
			}
		}()
		deps.Publisher = events.NewNatsPublisher(nc, cfg.NATS.EventSubject)
		deps.Provisioner = meeting.NewNatsProvisioner(nc, cfg.NATS.MeetingSubject, cfg.NATS.RequestTimeout)
	} else {
		slog.Warn("NATS url not set, events and meeting links are disabled")
	}

	// --- Storage ---
	if cfg.S3.Enabled() {
		fileStorage, err := storage.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			slog.Error("failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
		deps.Files = fileStorage
	} else {
		slog.Warn("S3 bucket not set, cover uploads are disabled")
	}

	schedulingService := service.NewSchedulingService(deps)

	// --- Gin Engine ---
	router := gin.New()
	router.Use(
		gin.Recovery(),
		gin.Logger(),
		otelgin.Middleware(cfg.Telemetry.ServiceName),
		api.RequestIDMiddleware(),
		api.PrometheusMiddleware(),
	)
	api.SetupRoutes(router, api.RouteConfig{JWTSecret: cfg.JWT.Secret, JWTIssuer: cfg.JWT.Issuer}, schedulingService)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exiting")
}
