package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Column names recognised in uploaded trip files. Every other column is passed through untouched.
const (
	ColumnDriverName = "Driver Name"
	ColumnDate       = "Date"
	ColumnStatus     = "Status"
	ColumnMiles      = "Miles"
)

var (
	ErrMissingFile      = errors.New("no file uploaded")
	ErrNoDataAvailable  = errors.New("no trip data available")
	ErrCSVParse         = errors.New("error processing CSV file")
	ErrUpstreamQuery    = errors.New("error retrieving trips")
	ErrUpstreamDegraded = errors.New("trip store temporarily unavailable")
	ErrInvalidFilter    = errors.New("invalid trip filter")
	ErrIngestion        = errors.New("error ingesting file")
)

// Trip is one CSV row keyed by its header.
type Trip map[string]string

// Get returns the value of column name, falling back to a case-insensitive match.
// When several columns match only by case, the one whose name sorts first wins.
func (t Trip) Get(name string) (string, bool) {
	if v, ok := t[name]; ok {
		return v, true
	}
	var match string
	found := false
	for k := range t {
		if strings.EqualFold(k, name) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return "", false
	}
	return t[match], true
}

func (t Trip) DriverName() string {
	v, _ := t.Get(ColumnDriverName)
	return v
}

func (t Trip) Status() string {
	v, _ := t.Get(ColumnStatus)
	return v
}

// Filter holds the optional /trips predicates. Zero values impose no constraint.
type Filter struct {
	DriverName string
	StartDate  *time.Time
	EndDate    *time.Time
	Status     string
}

func (f Filter) HasDateBounds() bool {
	return f.StartDate != nil || f.EndDate != nil
}

type Summary struct {
	Trips          []Trip  `json:"trips"`
	TotalMileage   float64 `json:"totalMileage"`
	CompletedTrips int     `json:"completedTrips"`
}

// TripRow is a Trip normalised for insertion into the database.
type TripRow struct {
	FileID     int
	DriverName string
	TripDate   *time.Time
	Status     string
	Miles      *float64
	Data       Trip
	CheckSum   string
}

type AppError struct {
	FileID  int
	Message string
	Err     error
	Row     Trip
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Error() string {
	var rowDetails string
	if e.Row != nil {
		rowJSON, err := json.Marshal(e.Row)
		if err != nil {
			rowDetails = "failed to marshal row to JSON"
		} else {
			rowDetails = string(rowJSON)
		}
	}

	if e.Err != nil {
		if rowDetails != "" {
			return fmt.Sprintf("FileID %d: %s - %v - Row: %s", e.FileID, e.Message, e.Err, rowDetails)
		}
		return fmt.Sprintf("FileID %d: %s - %v", e.FileID, e.Message, e.Err)
	}

	if rowDetails != "" {
		return fmt.Sprintf("FileID %d: %s - Row: %s", e.FileID, e.Message, rowDetails)
	}

	return fmt.Sprintf("FileID %d: %s", e.FileID, e.Message)
}

// MarshalJSON stores the error in the file_records.errors jsonb column.
func (e AppError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Message string `json:"message"`
		Cause   string `json:"cause,omitempty"`
		Row     Trip   `json:"row,omitempty"`
	}{e.Message, cause, e.Row})
}

type FileProcessingJob struct {
	FilePath string
	FileID   int
}

type FileInfo struct {
	Path     string
	CheckSum string
}

type FileErrorMap struct {
	Errors map[int][]AppError
	Mu     sync.Mutex
}

type IngestionChannels struct {
	Results chan *TripRow
	Errors  chan AppError
	Jobs    chan FileProcessingJob
}

type IngestionWaitGroups struct {
	ParserWg *sync.WaitGroup
	DbWg     *sync.WaitGroup
	MainWg   *sync.WaitGroup
}

type FileMap = map[int]string

type SetupReturn struct {
	Channels      *IngestionChannels
	WaitGroups    *IngestionWaitGroups
	FileMap       *FileMap
	FileErrorsMap *FileErrorMap
}

func (s *SetupReturn) GetValues() (*IngestionChannels, *IngestionWaitGroups, *FileMap, *FileErrorMap) {
	return s.Channels, s.WaitGroups, s.FileMap, s.FileErrorsMap
}

// IngestionReport summarises one ingestion run.
type IngestionReport struct {
	FilesProcessed int
	FilesSkipped   int
	RowsInserted   int64
	Errors         int
}
