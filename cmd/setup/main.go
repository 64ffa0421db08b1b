package main

import (
	"context"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/config"
	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.New()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.DatabaseURL == "" {
		logging.Fatal().Msg("DATABASE_URL environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer dbpool.Close()

	dbManager := database.NewPostgresDBManager(dbpool)

	logging.Info().Msg("creating file_records table")
	if err := dbManager.CreateFileRecordsTable(ctx); err != nil {
		dbpool.Close()
		logging.Fatal().Err(err).Msg("error creating file_records table")
	}

	logging.Info().Msg("creating trips table")
	if err := dbManager.CreateTripsTable(ctx); err != nil {
		dbpool.Close()
		logging.Fatal().Err(err).Msg("error creating trips table")
	}

	if err := dbManager.CreateTripIndexes(ctx); err != nil {
		dbpool.Close()
		logging.Fatal().Err(err).Msg("error creating trip indexes")
	}

	logging.Info().Msg("database setup finished successfully")
}
