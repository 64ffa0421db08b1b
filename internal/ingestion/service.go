package ingestion

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThiagoRGoveia/driver-trips/internal/config"
	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/metrics"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

type IngestionService struct {
	// mu serialises runs; the async worker holds per-run channels.
	mu            sync.Mutex
	dbManager     database.DBManager
	setupService  ISetup
	asyncWorker   Worker
	fileProcessor Processor
	config        config.Config
}

func NewIngestionService(dbManager database.DBManager, setupService ISetup, worker Worker, processor Processor, cfg config.Config) *IngestionService {
	return &IngestionService{
		dbManager:     dbManager,
		setupService:  setupService,
		asyncWorker:   worker,
		fileProcessor: processor,
		config:        cfg,
	}
}

// New wires the default setup, worker and file processor around dbManager.
func New(dbManager database.DBManager, cfg config.Config) *IngestionService {
	worker := NewAsyncWorker(dbManager, AsyncWorkerConfig{DBBatchSize: cfg.DBBatchSize})
	return NewIngestionService(dbManager, Setup{}, worker, NewFileProcessor(dbManager), cfg)
}

// Execute ingests every CSV file found under filesPath.
func (h *IngestionService) Execute(ctx context.Context, filesPath string) (*models.IngestionReport, error) {
	fileInfos, err := h.fileProcessor.ScanForFiles(filesPath)
	if err != nil {
		logging.Error().Err(err).Msg("failed to scan files")
		return nil, err
	}
	return h.run(ctx, fileInfos)
}

// IngestFiles ingests the given file paths.
func (h *IngestionService) IngestFiles(ctx context.Context, paths ...string) (*models.IngestionReport, error) {
	fileInfos := make([]models.FileInfo, 0, len(paths))
	for _, path := range paths {
		fileInfos = append(fileInfos, models.FileInfo{Path: path})
	}
	return h.run(ctx, fileInfos)
}

// run orchestrates the file processing workflow.
func (h *IngestionService) run(ctx context.Context, fileInfos []models.FileInfo) (*models.IngestionReport, error) {
	report := &models.IngestionReport{}
	if len(fileInfos) == 0 {
		return report, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Step 0: Setup the ingestion environment.
	environmentConfig, err := h.setupService.build(h.config.ResultsChannelSize)
	if err != nil {
		return nil, err
	}
	channels, waitGroups, fileMap, fileErrorsMap := environmentConfig.GetValues()

	// Step 0.1: VERY IMPORTANT, the worker reads channels and wait groups from here.
	h.asyncWorker.WithChannels(channels).WithWaitGroups(waitGroups)

	// Step 1: Checksum files, skip the ones already loaded, record the rest and dispatch jobs.
	dispatcherWorkerRunner, _, err := h.asyncWorker.SetupJobDispatcherWorker(ctx, fileInfos, *fileMap)
	if err != nil {
		return nil, err
	}
	dispatcherWorkerRunner.Run()

	// Step 2: Error worker, shares MainWg with the dispatcher.
	errorWorkerRunner, mainWaitGroup, err := h.asyncWorker.SetupErrorWorker()
	if err != nil {
		return nil, err
	}
	errorWorkerRunner.Run(fileErrorsMap)

	// Step 3: Parser workers stream each CSV into the results channel.
	parserWorkersRunner, parserWorkerWaitGroup, err := h.asyncWorker.SetupParserWorkers(h.config.NumParserWorkers)
	if err != nil {
		return nil, err
	}
	parserWorkersRunner.Run()

	// Step 4: DB workers batch rows and insert them, duplicates by checksum are ignored.
	dbWorkersRunner, dbWorkerWaitGroup, err := h.asyncWorker.SetupDBWorkers(h.config.NumDBWorkers)
	if err != nil {
		return nil, err
	}

	var inserted atomic.Int64
	err = dbWorkersRunner.Run(func(trips []*models.TripRow) error {
		n, err := h.dbManager.InsertTrips(ctx, trips)
		if err != nil {
			return err
		}
		inserted.Add(n)
		metrics.RowsIngested.Add(float64(n))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 5: Wait for all processing to complete.
	parserWorkerWaitGroup.Wait()
	close(channels.Results)

	dbWorkerWaitGroup.Wait()

	// Only now can nothing else produce errors.
	close(channels.Errors)
	mainWaitGroup.Wait()

	// Step 6: Record the outcome of each file.
	if err := h.fileProcessor.UpdateFileStatus(ctx, fileErrorsMap, fileMap); err != nil {
		return nil, err
	}

	report.FilesProcessed = len(*fileMap)
	report.FilesSkipped = len(fileInfos) - len(*fileMap)
	report.RowsInserted = inserted.Load()
	for _, appErrors := range fileErrorsMap.Errors {
		report.Errors += len(appErrors)
	}

	logging.Info().
		Int("files_processed", report.FilesProcessed).
		Int("files_skipped", report.FilesSkipped).
		Int64("rows_inserted", report.RowsInserted).
		Int("errors", report.Errors).
		Msg("ingestion finished")
	return report, nil
}
