package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("database: empty connection string")
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("database: parse config: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return dbpool, nil
}

type PostgresDBManager struct {
	dbpool *pgxpool.Pool
}

func NewPostgresDBManager(pool *pgxpool.Pool) *PostgresDBManager {
	return &PostgresDBManager{dbpool: pool}
}

func (m *PostgresDBManager) CreateFileRecordsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS file_records (
		id SERIAL PRIMARY KEY,
		file_name TEXT NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		status VARCHAR(50) NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS', 'PROCESSING', 'FATAL', 'SUPERSEDED')),
		checksum VARCHAR(64),
		errors jsonb
	);`

	_, err := m.dbpool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("error creating file_records table: %v", err)
	}

	return nil
}

// CreateTripsTable creates the trips table. The raw row is kept in data so queries
// can return it unchanged; the typed columns exist only for filtering.
func (m *PostgresDBManager) CreateTripsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS trips (
		id BIGSERIAL PRIMARY KEY,
		file_id INTEGER,
		driver_name TEXT NOT NULL,
		trip_date DATE,
		status TEXT NOT NULL DEFAULT '',
		miles NUMERIC(12, 2),
		data JSONB NOT NULL,
		checksum VARCHAR(64) NOT NULL UNIQUE
	);`

	_, err := m.dbpool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("error creating trips table: %v", err)
	}

	return nil
}

func (m *PostgresDBManager) CreateTripIndexes(ctx context.Context) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_trips_trip_date ON trips (trip_date);`,
		`CREATE INDEX IF NOT EXISTS idx_trips_status ON trips (lower(status));`,
		`CREATE INDEX IF NOT EXISTS idx_trips_file_id ON trips (file_id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_records_file_name ON file_records (file_name);`,
	}

	for _, query := range queries {
		_, err := m.dbpool.Exec(ctx, query)
		if err != nil {
			return fmt.Errorf("error creating index: %v", err)
		}
	}

	return nil
}

func (m *PostgresDBManager) InsertFileRecord(ctx context.Context, fileName string, date time.Time, status string, checksum string) (int, error) {
	query := `
	INSERT INTO file_records (file_name, processed_at, status, checksum)
	VALUES ($1, $2, $3, $4)
	RETURNING id;`

	var fileID int
	err := m.dbpool.QueryRow(ctx, query, fileName, date, status, checksum).Scan(&fileID)
	if err != nil {
		return 0, fmt.Errorf("error inserting file record: %v", err)
	}

	return fileID, nil
}

func (m *PostgresDBManager) UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error {
	tx, err := m.dbpool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	// A run that was itself superseded while still loading keeps that status.
	query := `
	UPDATE file_records
	SET status = $1,
		errors = $2
	WHERE id = $3 AND status <> 'SUPERSEDED';`

	tag, err := tx.Exec(ctx, query, status, errors, fileID)
	if err != nil {
		return fmt.Errorf("error updating file status: %v", err)
	}

	if tag.RowsAffected() > 0 && (status == FILE_STATUS_DONE || status == FILE_STATUS_DONE_WITH_ERRORS) {
		if err := supersedeEarlierVersions(ctx, tx, fileID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}

	return nil
}

// supersedeEarlierVersions deletes the rows of every older record for the same
// file name and marks those records SUPERSEDED.
func supersedeEarlierVersions(ctx context.Context, tx pgx.Tx, fileID int) error {
	deleteQuery := `
	DELETE FROM trips
	WHERE file_id IN (
		SELECT prior.id
		FROM file_records prior
		JOIN file_records latest ON latest.file_name = prior.file_name
		WHERE latest.id = $1 AND prior.id < $1
	);`

	tag, err := tx.Exec(ctx, deleteQuery, fileID)
	if err != nil {
		return fmt.Errorf("error deleting superseded trips: %v", err)
	}

	updateQuery := `
	UPDATE file_records prior
	SET status = 'SUPERSEDED'
	FROM file_records latest
	WHERE latest.id = $1
		AND prior.file_name = latest.file_name
		AND prior.id < $1
		AND prior.status <> 'SUPERSEDED';`

	superseded, err := tx.Exec(ctx, updateQuery, fileID)
	if err != nil {
		return fmt.Errorf("error superseding file records: %v", err)
	}

	if superseded.RowsAffected() > 0 {
		logging.Info().Int("file_id", fileID).
			Int64("records", superseded.RowsAffected()).
			Int64("rows_deleted", tag.RowsAffected()).
			Msg("superseded earlier versions of file")
	}

	return nil
}

// IsFileAlreadyProcessed reports whether this exact content was already loaded
// cleanly under fileName and has not been replaced since.
func (m *PostgresDBManager) IsFileAlreadyProcessed(ctx context.Context, fileName string, checksum string) (bool, error) {
	query := `
	SELECT id
	FROM file_records
	WHERE file_name = $1 AND checksum = $2 AND status = 'DONE'
	LIMIT 1;`

	var id int

	err := m.dbpool.QueryRow(ctx, query, fileName, checksum).Scan(&id)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error finding file record by checksum: %v", err)
	}

	return true, nil
}

const tripsStagingTable = "trips_staging"

func (m *PostgresDBManager) copyTripsIntoStagingTable(ctx context.Context, tx pgx.Tx, trips []*models.TripRow) error {
	// The column order here must match the values returned below.
	columnNames := []string{
		"file_id", "driver_name", "trip_date", "status", "miles", "data", "checksum",
	}

	copySource := pgx.CopyFromSlice(len(trips), func(i int) ([]interface{}, error) {
		trip := trips[i]
		return []interface{}{trip.FileID, trip.DriverName, trip.TripDate, trip.Status, trip.Miles, map[string]string(trip.Data), trip.CheckSum},
			nil
	})

	_, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{tripsStagingTable},
		columnNames,
		copySource,
	)

	return err
}

// InsertTrips bulk loads trips through a transaction scoped staging table and moves
// them into trips, skipping rows whose checksum is already stored, which only
// happens when the same batch of a file version is loaded twice. It returns the
// number of rows actually inserted.
func (m *PostgresDBManager) InsertTrips(ctx context.Context, trips []*models.TripRow) (int64, error) {
	if len(trips) == 0 {
		return 0, nil
	}

	tx, err := m.dbpool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	createStaging := fmt.Sprintf(
		`CREATE TEMP TABLE IF NOT EXISTS %s (LIKE trips INCLUDING DEFAULTS) ON COMMIT DROP;`,
		pgx.Identifier{tripsStagingTable}.Sanitize())
	if _, err := tx.Exec(ctx, createStaging); err != nil {
		return 0, fmt.Errorf("error creating staging table: %v", err)
	}

	logging.Debug().Int("rows", len(trips)).Msg("bulk loading trips into staging table")
	if err := m.copyTripsIntoStagingTable(ctx, tx, trips); err != nil {
		return 0, fmt.Errorf("unable to copy trips to staging table: %v", err)
	}

	insertQuery := fmt.Sprintf(`
	INSERT INTO trips (file_id, driver_name, trip_date, status, miles, data, checksum)
	SELECT file_id, driver_name, trip_date, status, miles, data, checksum
	FROM %s
	ORDER BY id
	ON CONFLICT (checksum) DO NOTHING;
	`, pgx.Identifier{tripsStagingTable}.Sanitize())

	tag, err := tx.Exec(ctx, insertQuery)
	if err != nil {
		return 0, fmt.Errorf("error inserting trips from staging table: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing transaction: %v", err)
	}

	return tag.RowsAffected(), nil
}

// buildTripsQuery renders the filtered select over the current version of every
// file. Every predicate is optional and they combine with AND.
func buildTripsQuery(filter models.Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	addArg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DriverName != "" {
		conditions = append(conditions, fmt.Sprintf(`t.driver_name ILIKE %s ESCAPE '\'`, addArg("%"+escapeLike(filter.DriverName)+"%")))
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "t.trip_date >= "+addArg(civilDate(*filter.StartDate)))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "t.trip_date <= "+addArg(civilDate(*filter.EndDate)))
	}
	if filter.Status != "" {
		conditions = append(conditions, "lower(t.status) = lower("+addArg(filter.Status)+")")
	}

	// Rows of a file still loading, or of a replaced version, are not served.
	query := "SELECT t.data FROM trips t JOIN file_records f ON f.id = t.file_id" +
		" WHERE f.status IN ('DONE', 'DONE_WITH_ERRORS')"
	for _, condition := range conditions {
		query += " AND " + condition
	}
	query += " ORDER BY t.file_id, t.id;"

	return query, args
}

func (m *PostgresDBManager) QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error) {
	query, args := buildTripsQuery(filter)

	rows, err := m.dbpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying trips: %w", err)
	}

	trips, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Trip, error) {
		var data map[string]string
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		return models.Trip(data), nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning trips: %w", err)
	}

	return trips, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// civilDate drops the clock and zone so the date parameter matches the calendar day
// the caller asked for.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
