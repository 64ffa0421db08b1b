package ingestion

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/metrics"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/parser"
	"github.com/ThiagoRGoveia/driver-trips/pkg/checksum"
)

// maxErrorsPerFile bounds memory for badly malformed files.
const maxErrorsPerFile = 100

type Runner[T any] struct {
	Run T
}

type AsyncWorkerConfig struct {
	DBBatchSize int
}

// BatchHandler persists one batch of trip rows.
type BatchHandler func(trips []*models.TripRow) error

// Worker defines the interface for asynchronous processing tasks.
type Worker interface {
	WithChannels(channels *models.IngestionChannels) Worker
	WithWaitGroups(waitGroups *models.IngestionWaitGroups) Worker
	SetupErrorWorker() (Runner[func(*models.FileErrorMap)], *sync.WaitGroup, error)
	SetupParserWorkers(numberOfWorkers int) (Runner[func()], *sync.WaitGroup, error)
	SetupDBWorkers(numberOfWorkers int) (Runner[func(BatchHandler) error], *sync.WaitGroup, error)
	SetupJobDispatcherWorker(ctx context.Context, fileInfos []models.FileInfo, fileMap models.FileMap) (Runner[func()], *sync.WaitGroup, error)
}

type AsyncWorker struct {
	config     AsyncWorkerConfig
	dbManager  database.DBManager
	channels   *models.IngestionChannels
	waitGroups *models.IngestionWaitGroups
	now        func() time.Time
}

func NewAsyncWorker(dbManager database.DBManager, cfg AsyncWorkerConfig) *AsyncWorker {
	if cfg.DBBatchSize < 1 {
		cfg.DBBatchSize = 1
	}
	return &AsyncWorker{
		dbManager: dbManager,
		config:    cfg,
		now:       time.Now,
	}
}

func (w *AsyncWorker) WithChannels(channels *models.IngestionChannels) Worker {
	w.channels = channels
	return w
}

func (w *AsyncWorker) WithWaitGroups(waitGroups *models.IngestionWaitGroups) Worker {
	w.waitGroups = waitGroups
	return w
}

func (w *AsyncWorker) ParserWorker() {
	defer w.waitGroups.ParserWg.Done()
	for job := range w.channels.Jobs {
		logging.Debug().Str("file", job.FilePath).Int("file_id", job.FileID).Msg("parser worker started job")
		now := w.now()
		fileID := job.FileID
		source := fileIdentity(job.FilePath)

		err := parser.StreamTripFile(job.FilePath,
			func(line int, trip models.Trip) error {
				w.channels.Results <- parser.ToTripRow(trip, source, fileID, line, now)
				return nil
			},
			func(line int, trip models.Trip) {
				metrics.RowsSkipped.Inc()
				logging.Warn().Str("file", filepath.Base(job.FilePath)).Int("line", line).Msg("row has no driver name, skipping")
			},
		)
		if err != nil {
			metrics.CSVParseErrors.Inc()
			w.channels.Errors <- models.AppError{FileID: fileID, Message: "Failed to parse file", Err: err}
		}
		logging.Debug().Str("file", job.FilePath).Int("file_id", job.FileID).Msg("parser worker finished job")
	}
}

func (w *AsyncWorker) SetupParserWorkers(numberOfWorkers int) (Runner[func()], *sync.WaitGroup, error) {
	return Runner[func()]{
		Run: func() {
			for i := 1; i <= numberOfWorkers; i++ {
				w.waitGroups.ParserWg.Add(1)
				go w.ParserWorker()
			}
		},
	}, w.waitGroups.ParserWg, nil
}

func (w *AsyncWorker) DbWorker(workerId int, resultsChan <-chan *models.TripRow, errorsChan chan<- models.AppError, waitGroups *models.IngestionWaitGroups, dbHandler BatchHandler) {
	defer waitGroups.DbWg.Done()
	trips := make([]*models.TripRow, 0, w.config.DBBatchSize)

	flush := func(message string) {
		if len(trips) == 0 {
			return
		}
		logging.Debug().Int("worker", workerId).Int("rows", len(trips)).Msg("inserting batch of trips")
		if err := dbHandler(trips); err != nil {
			// The batch failed, so report an error for each unique FileID in the batch.
			fileIDs := make(map[int]bool)
			for _, trip := range trips {
				fileIDs[trip.FileID] = true
			}
			for fileID := range fileIDs {
				errorsChan <- models.AppError{FileID: fileID, Message: message, Err: err}
			}
		}
		trips = make([]*models.TripRow, 0, w.config.DBBatchSize)
	}

	for result := range resultsChan {
		trips = append(trips, result)
		if len(trips) >= w.config.DBBatchSize {
			flush("Failed to insert batch of trips")
		}
	}

	flush("Failed to insert remaining batch of trips")
	logging.Debug().Int("worker", workerId).Msg("db worker finished")
}

func (w *AsyncWorker) SetupDBWorkers(numberOfWorkers int) (Runner[func(BatchHandler) error], *sync.WaitGroup, error) {
	return Runner[func(BatchHandler) error]{
		Run: func(dbHandler BatchHandler) error {
			for i := 1; i <= numberOfWorkers; i++ {
				w.waitGroups.DbWg.Add(1)
				go w.DbWorker(i, w.channels.Results, w.channels.Errors, w.waitGroups, dbHandler)
			}
			return nil
		},
	}, w.waitGroups.DbWg, nil
}

func (w *AsyncWorker) ErrorWorker(fileErrorsMap *models.FileErrorMap) {
	defer w.waitGroups.MainWg.Done()
	for appErr := range w.channels.Errors {
		logging.Error().Str("error", appErr.Error()).Msg("ingestion error")
		if appErr.FileID == -1 {
			continue
		}

		fileErrorsMap.Mu.Lock()
		if len(fileErrorsMap.Errors[appErr.FileID]) < maxErrorsPerFile {
			fileErrorsMap.Errors[appErr.FileID] = append(fileErrorsMap.Errors[appErr.FileID], appErr)
		} else {
			logging.Warn().Int("file_id", appErr.FileID).Msg("file has too many errors, dropping further errors")
		}
		fileErrorsMap.Mu.Unlock()
	}
}

func (w *AsyncWorker) PreprocessAndDispatchJobs(ctx context.Context, fileInfos []models.FileInfo, fileMap models.FileMap) {
	defer close(w.channels.Jobs)
	defer w.waitGroups.MainWg.Done()

	for _, fileInfo := range fileInfos {
		sum := fileInfo.CheckSum
		if sum == "" {
			var err error
			sum, err = checksum.GetFileChecksum(fileInfo.Path)
			if err != nil {
				logging.Error().Err(err).Str("file", fileInfo.Path).Msg("failed to calculate checksum, skipping file")
				continue
			}
		}

		name := fileIdentity(fileInfo.Path)
		isProcessed, err := w.dbManager.IsFileAlreadyProcessed(ctx, name, sum)
		if err != nil {
			logging.Error().Err(err).Str("file", fileInfo.Path).Msg("failed to check if file is already processed, skipping file")
			continue
		}
		if isProcessed {
			logging.Info().Str("file", fileInfo.Path).Str("checksum", sum).Msg("file has already been processed, skipping")
			continue
		}

		fileID, err := w.dbManager.InsertFileRecord(ctx, name, w.now(), database.FILE_STATUS_PROCESSING, sum)
		if err != nil {
			logging.Error().Err(err).Str("file", fileInfo.Path).Msg("failed to insert file record, skipping file")
			continue
		}

		fileMap[fileID] = fileInfo.Path

		logging.Info().Str("file", fileInfo.Path).Int("file_id", fileID).Msg("dispatching job")
		w.channels.Jobs <- models.FileProcessingJob{FilePath: fileInfo.Path, FileID: fileID}
	}
}

// fileIdentity names a file the same way however its path was spelled, so a file
// stored again under the same name replaces its earlier version.
func fileIdentity(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func (w *AsyncWorker) SetupJobDispatcherWorker(ctx context.Context, fileInfos []models.FileInfo, fileMap models.FileMap) (Runner[func()], *sync.WaitGroup, error) {
	return Runner[func()]{
		Run: func() {
			w.waitGroups.MainWg.Add(1)
			go w.PreprocessAndDispatchJobs(ctx, fileInfos, fileMap)
		},
	}, w.waitGroups.MainWg, nil
}

func (w *AsyncWorker) SetupErrorWorker() (Runner[func(*models.FileErrorMap)], *sync.WaitGroup, error) {
	return Runner[func(*models.FileErrorMap)]{
		Run: func(fileErrorsMap *models.FileErrorMap) {
			w.waitGroups.MainWg.Add(1)
			go w.ErrorWorker(fileErrorsMap)
		},
	}, w.waitGroups.MainWg, nil
}
