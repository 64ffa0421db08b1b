package database

import (
	"context"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

const (
	FILE_STATUS_PROCESSING       = "PROCESSING"
	FILE_STATUS_DONE             = "DONE"
	FILE_STATUS_DONE_WITH_ERRORS = "DONE_WITH_ERRORS"
	FILE_STATUS_FATAL            = "FATAL"
	FILE_STATUS_SUPERSEDED       = "SUPERSEDED"
)

type DBManager interface {
	CreateFileRecordsTable(ctx context.Context) error
	CreateTripsTable(ctx context.Context) error
	CreateTripIndexes(ctx context.Context) error
	InsertFileRecord(ctx context.Context, fileName string, date time.Time, status string, checksum string) (int, error)
	// UpdateFileStatus records the outcome of a run. A finished run also retires
	// every earlier version of the same file and its rows, in one transaction.
	UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error
	IsFileAlreadyProcessed(ctx context.Context, fileName string, checksum string) (bool, error)
	InsertTrips(ctx context.Context, trips []*models.TripRow) (int64, error)
	QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error)
}

// SetupSchema creates every table and index the service needs. It is idempotent.
func SetupSchema(ctx context.Context, m DBManager) error {
	if err := m.CreateFileRecordsTable(ctx); err != nil {
		return err
	}
	if err := m.CreateTripsTable(ctx); err != nil {
		return err
	}
	return m.CreateTripIndexes(ctx)
}
