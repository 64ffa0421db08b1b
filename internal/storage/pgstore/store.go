// Package pgstore serves trip queries from PostgreSQL. Uploads still land on local
// disk and, when enabled, are ingested into the trips table before the upload is
// acknowledged.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/metrics"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/sony/gobreaker/v2"
)

const Kind = "postgres"

// Querier runs a filtered trip query against the database.
type Querier interface {
	QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error)
}

// Ingester loads stored files into the trips table.
type Ingester interface {
	IngestFiles(ctx context.Context, paths ...string) (*models.IngestionReport, error)
}

// FileStore persists uploaded files.
type FileStore interface {
	SaveUpload(ctx context.Context, filename string, content io.Reader) (string, error)
	Path(storedName string) string
}

type Config struct {
	IngestOnUpload   bool
	FailureThreshold uint32
	Timeout          time.Duration
}

type Store struct {
	files    FileStore
	querier  Querier
	ingester Ingester
	config   Config
	breaker  *gobreaker.CircuitBreaker[[]models.Trip]
}

func New(files FileStore, querier Querier, ingester Ingester, cfg Config) *Store {
	s := &Store{
		files:    files,
		querier:  querier,
		ingester: ingester,
		config:   cfg,
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]models.Trip](gobreaker.Settings{
		Name:    "trips-query",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.FailureThreshold > 0 && counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A cancelled request says nothing about the database.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return s
}

func (s *Store) Kind() string {
	return Kind
}

// SaveUpload stores the file and, when ingestion on upload is enabled, loads it into
// the database before returning, so the rows are queryable once the upload is
// acknowledged. A client that hangs up mid-load does not abort it. A failed load
// is reported as models.ErrIngestion; the file stays on disk for a later run.
func (s *Store) SaveUpload(ctx context.Context, filename string, content io.Reader) (string, error) {
	name, err := s.files.SaveUpload(ctx, filename, content)
	if err != nil {
		return "", err
	}

	if s.config.IngestOnUpload && s.ingester != nil {
		if err := s.ingest(context.WithoutCancel(ctx), s.files.Path(name)); err != nil {
			return "", fmt.Errorf("%w: %s: %v", models.ErrIngestion, name, err)
		}
	}

	return name, nil
}

func (s *Store) ingest(ctx context.Context, path string) error {
	log := logging.Ctx(ctx)
	report, err := s.ingester.IngestFiles(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to ingest uploaded file")
		return err
	}
	log.Info().
		Str("path", path).
		Int64("rows_inserted", report.RowsInserted).
		Int("files_skipped", report.FilesSkipped).
		Int("errors", report.Errors).
		Msg("uploaded file ingested")
	return nil
}

// QueryTrips runs the query through the circuit breaker. Database failures are
// reported as models.ErrUpstreamQuery, and as models.ErrUpstreamDegraded while the
// breaker is open.
func (s *Store) QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error) {
	start := time.Now()
	defer metrics.ObserveQuery(Kind, start)

	rows, err := s.breaker.Execute(func() ([]models.Trip, error) {
		return s.querier.QueryTrips(ctx, filter)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", models.ErrUpstreamDegraded, err)
		}
		metrics.UpstreamErrors.Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("trip query failed")
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamQuery, err)
	}

	if rows == nil {
		rows = []models.Trip{}
	}
	return rows, nil
}
