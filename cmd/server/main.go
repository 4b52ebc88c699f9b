package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duo-chat/backend/pkg/config"
	"duo-chat/backend/pkg/di"
	"duo-chat/backend/pkg/health"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/router"
	"duo-chat/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application",
		"version", os.Getenv("APP_VERSION"),
		"env", cfg.Server.Env,
		"message_store", cfg.Store.Driver,
		"blob_driver", cfg.Blob.Driver,
	)

	var traceOut io.Writer = io.Discard
	if cfg.Observability.TracingEnabled {
		traceOut = os.Stdout
	}
	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, traceOut)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}

	metrics, err := observability.SetupMetrics(cfg.Observability.ServiceName)
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	db, err := config.NewDB(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}
	if err := config.TestConnection(db); err != nil {
		log.LogError(err, "Database is not reachable")
		os.Exit(1)
	}

	rootCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()

	container, err := di.New(rootCtx, cfg, db, log, di.WithMetrics(metrics))
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	container.Health.Start(rootCtx)

	r := router.New(container)
	r.AddOpenAPIValidation(cfg.Server.OpenAPISchema)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	var grpcHealth *health.GRPCServer
	if cfg.GRPC.Enabled {
		grpcHealth = health.NewGRPCServer(container.Health, cfg.Observability.ServiceName, log)
		go func() {
			log.Info("gRPC health server starting", "port", cfg.GRPC.Port)
			if err := grpcHealth.ListenAndServe(":" + cfg.GRPC.Port); err != nil {
				log.LogError(err, "gRPC health server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// sessions first so clients see a close frame rather than a reset
	if err := container.Gateway.Shutdown(ctx); err != nil {
		log.LogError(err, "WebSocket sessions did not drain in time")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcHealth != nil {
		grpcHealth.Shutdown(ctx)
	}

	stopChecks()
	r.Close()

	if err := container.Close(); err != nil {
		log.LogError(err, "Failed to close stores")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := metrics.Shutdown(ctx); err != nil {
		log.LogError(err, "Failed to flush metrics")
	}
	if err := shutdownTracing(ctx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	log.Info("Server exited gracefully")
}
