package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/permit-search/internal/api/handler"
	"github.com/cuongbtq/permit-search/internal/api/router"
	"github.com/cuongbtq/permit-search/internal/bootstrap"
	"github.com/cuongbtq/permit-search/internal/config"
	"github.com/cuongbtq/permit-search/internal/search"
	"github.com/cuongbtq/permit-search/shared/postgresql"
	"github.com/cuongbtq/permit-search/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Search.Store),
		slog.String("dispatch", cfg.Search.Dispatch),
	)

	// Root context for background work; cancelled on shutdown
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	healthChecks := make(map[string]handler.HealthChecker)

	var db *sqlx.DB
	if cfg.Search.Store == config.StorePostgres {
		dbClient, err := postgresql.NewClient(bootstrap.PostgresConfig(cfg.Database), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		db = dbClient.GetDB()
		healthChecks["postgres"] = dbClient
	}

	pipeline, err := bootstrap.Build(rootCtx, cfg, db, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to build search pipeline: %w", err)
	}
	defer pipeline.Close()

	var (
		dispatcher search.Dispatcher
		inline     *search.InlineDispatcher
	)
	switch cfg.Search.Dispatch {
	case config.DispatchQueue:
		rabbitClient, err := rabbitmq.NewClient(bootstrap.RabbitMQConfig(cfg.RabbitMQ), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		dispatcher = search.NewQueueDispatcher(rabbitClient)
		healthChecks["rabbitmq"] = rabbitClient
	default:
		inline = search.NewInlineDispatcher(rootCtx, pipeline.Manager, cfg.Search.JobTimeout)
		dispatcher = inline
	}

	go pipeline.Manager.RunJanitor(rootCtx, cfg.Search.SweepInterval)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:       appLogger.Logger,
		ServiceName:  cfg.App.Name,
		Manager:      pipeline.Manager,
		Dispatcher:   dispatcher,
		Validator:    pipeline.RequestValidator,
		HealthChecks: healthChecks,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// in-flight inline jobs are interrupted and finalize as failed
	stop()
	if inline != nil {
		inline.Wait()
	}

	appLogger.Info("API service shutdown complete")
	return nil
}
