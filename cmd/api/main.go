package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/config"
	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/ingestion"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/server"
	"github.com/ThiagoRGoveia/driver-trips/internal/storage"
	"github.com/ThiagoRGoveia/driver-trips/internal/storage/csvstore"
	"github.com/ThiagoRGoveia/driver-trips/internal/storage/pgstore"
	"github.com/joho/godotenv"
)

// setupStore builds the trip store for the configured backend. The returned
// cleanup releases any database connections.
func setupStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	files := csvstore.New(cfg.UploadDir, cfg.MaxConcurrentFiles)
	if cfg.StoreBackend == config.BackendCSV {
		return files, func() {}, nil
	}

	dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	dbManager := database.NewPostgresDBManager(dbpool)
	if err := database.SetupSchema(ctx, dbManager); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("failed to setup database: %w", err)
	}

	store := pgstore.New(files, dbManager, ingestion.New(dbManager, *cfg), pgstore.Config{
		IngestOnUpload:   cfg.IngestOnUpload,
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
	})
	return store, dbpool.Close, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, cleanup, err := setupStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tripService := server.NewTripService(store, server.ServiceConfig{
		MaxUploadBytes:  cfg.MaxUploadBytes,
		SummaryResponse: store.Kind() == pgstore.Kind,
	})
	router := server.SetupRoutes(tripService, server.RouterConfig{
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("backend", store.Kind()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.New()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("server stopped")
	}
	logging.Info().Msg("server stopped")
}
