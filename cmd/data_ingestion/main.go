package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/config"
	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/ingestion"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/joho/godotenv"
)

func setup(ctx context.Context) (string, *ingestion.IngestionService, func(), error) {
	if len(os.Args) < 2 {
		return "", nil, nil, fmt.Errorf("please provide the folder path as a command-line argument")
	}
	filesPath := os.Args[1]

	cfg, err := config.New()
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.DatabaseURL == "" {
		return "", nil, nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return "", nil, nil, err
	}

	dbManager := database.NewPostgresDBManager(dbpool)
	if err := database.SetupSchema(ctx, dbManager); err != nil {
		dbpool.Close()
		return "", nil, nil, fmt.Errorf("failed to setup database: %w", err)
	}

	return filesPath, ingestion.New(dbManager, *cfg), dbpool.Close, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Warn().Err(err).Msg("could not load .env file")
	}
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filesPath, handler, cleanup, err := setup(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("setup failed")
	}
	defer cleanup()

	logging.Info().Str("path", filesPath).Msg("starting ingestion")
	report, err := handler.Execute(ctx, filesPath)
	if err != nil {
		cleanup()
		logging.Fatal().Err(err).Msg("error during ingestion")
	}

	logging.Info().
		Int("files_processed", report.FilesProcessed).
		Int("files_skipped", report.FilesSkipped).
		Int64("rows_inserted", report.RowsInserted).
		Int("errors", report.Errors).
		Dur("elapsed", time.Since(startTime)).
		Msg("ingestion process finished")
}
