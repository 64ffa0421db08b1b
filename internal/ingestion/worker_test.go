package ingestion

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewAsyncWorker(t *testing.T) {
	dbManager := new(MockDBManager)
	cfg := AsyncWorkerConfig{DBBatchSize: 100}

	worker := NewAsyncWorker(dbManager, cfg)

	assert.NotNil(t, worker)
	assert.Equal(t, dbManager, worker.dbManager)
	assert.Equal(t, cfg, worker.config)

	t.Run("should clamp the batch size", func(t *testing.T) {
		worker := NewAsyncWorker(dbManager, AsyncWorkerConfig{})
		assert.Equal(t, 1, worker.config.DBBatchSize)
	})
}

func TestAsyncWorker_WithChannels(t *testing.T) {
	worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})
	channels := &models.IngestionChannels{}

	worker.WithChannels(channels)

	assert.Equal(t, channels, worker.channels)
}

func TestAsyncWorker_WithWaitGroups(t *testing.T) {
	worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})
	waitGroups := &models.IngestionWaitGroups{}

	worker.WithWaitGroups(waitGroups)

	assert.Equal(t, waitGroups, worker.waitGroups)
}

func TestAsyncWorker_ErrorWorker(t *testing.T) {
	t.Run("Success case - aggregates errors", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})

		errorsChan := make(chan models.AppError, 3)
		waitGroups := &models.IngestionWaitGroups{MainWg: &sync.WaitGroup{}}
		fileErrorsMap := &models.FileErrorMap{Errors: make(map[int][]models.AppError)}

		worker.WithChannels(&models.IngestionChannels{Errors: errorsChan}).WithWaitGroups(waitGroups)

		waitGroups.MainWg.Add(1)
		go worker.ErrorWorker(fileErrorsMap)

		errorsChan <- models.AppError{FileID: 1, Message: "error 1"}
		errorsChan <- models.AppError{FileID: 1, Message: "error 2"}
		errorsChan <- models.AppError{FileID: -1, Message: "not tied to a file"}
		close(errorsChan)

		waitGroups.MainWg.Wait()

		assert.Len(t, fileErrorsMap.Errors[1], 2, "Should have aggregated 2 errors for FileID 1")
		assert.NotContains(t, fileErrorsMap.Errors, -1)
	})

	t.Run("Success case - stops aggregating after 100 errors", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})

		errorsChan := make(chan models.AppError, 150)
		waitGroups := &models.IngestionWaitGroups{MainWg: &sync.WaitGroup{}}
		fileErrorsMap := &models.FileErrorMap{Errors: make(map[int][]models.AppError)}

		worker.WithChannels(&models.IngestionChannels{Errors: errorsChan}).WithWaitGroups(waitGroups)

		waitGroups.MainWg.Add(1)
		go worker.ErrorWorker(fileErrorsMap)

		for i := 0; i < 150; i++ {
			errorsChan <- models.AppError{FileID: 4, Message: "bad row"}
		}
		close(errorsChan)

		waitGroups.MainWg.Wait()

		assert.Len(t, fileErrorsMap.Errors[4], maxErrorsPerFile)
	})
}

func TestAsyncWorker_DbWorker(t *testing.T) {
	const dbBatchSize = 2

	t.Run("Success case - batches rows", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{DBBatchSize: dbBatchSize})

		resultsChan := make(chan *models.TripRow, 3)
		errorsChan := make(chan models.AppError, 1)
		waitGroups := &models.IngestionWaitGroups{DbWg: &sync.WaitGroup{}}

		var batchSizes []int
		dbHandler := func(trips []*models.TripRow) error {
			batchSizes = append(batchSizes, len(trips))
			return nil
		}

		waitGroups.DbWg.Add(1)
		go worker.DbWorker(1, resultsChan, errorsChan, waitGroups, dbHandler)

		resultsChan <- &models.TripRow{FileID: 1, DriverName: "Alice"}
		resultsChan <- &models.TripRow{FileID: 1, DriverName: "Bob"}
		resultsChan <- &models.TripRow{FileID: 1, DriverName: "Carol"}
		close(resultsChan)

		waitGroups.DbWg.Wait()

		assert.Equal(t, []int{2, 1}, batchSizes)
		assert.Empty(t, errorsChan)
	})

	t.Run("Error case - one error per file in the failed batch", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{DBBatchSize: dbBatchSize})

		resultsChan := make(chan *models.TripRow, 2)
		errorsChan := make(chan models.AppError, 2)
		waitGroups := &models.IngestionWaitGroups{DbWg: &sync.WaitGroup{}}

		dbHandler := func(trips []*models.TripRow) error {
			return errors.New("db insert error")
		}

		waitGroups.DbWg.Add(1)
		go worker.DbWorker(1, resultsChan, errorsChan, waitGroups, dbHandler)

		resultsChan <- &models.TripRow{FileID: 10}
		resultsChan <- &models.TripRow{FileID: 11}
		close(resultsChan)

		waitGroups.DbWg.Wait()

		assert.Len(t, errorsChan, 2, "Two errors should be sent for the two unique FileIDs")

		errorsReceived := make(map[int]bool)
		for i := 0; i < 2; i++ {
			appErr := <-errorsChan
			errorsReceived[appErr.FileID] = true
		}
		assert.True(t, errorsReceived[10])
		assert.True(t, errorsReceived[11])
	})

	t.Run("Success case - no rows", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{DBBatchSize: dbBatchSize})

		resultsChan := make(chan *models.TripRow)
		errorsChan := make(chan models.AppError, 1)
		waitGroups := &models.IngestionWaitGroups{DbWg: &sync.WaitGroup{}}

		var handlerCalled bool
		dbHandler := func(trips []*models.TripRow) error {
			handlerCalled = true
			return nil
		}

		waitGroups.DbWg.Add(1)
		go worker.DbWorker(1, resultsChan, errorsChan, waitGroups, dbHandler)

		close(resultsChan)

		waitGroups.DbWg.Wait()

		assert.False(t, handlerCalled, "DB handler should not be called")
	})
}

func TestAsyncWorker_ParserWorker(t *testing.T) {
	fixedNow := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Success case", func(t *testing.T) {
		tmpfile, err := os.CreateTemp(t.TempDir(), "parser_test_*.csv")
		require.NoError(t, err)
		_, err = tmpfile.WriteString(csvHeader + "\nAlice,6/5 Thu,Completed,12.5\n,6/6 Fri,Pending,3\n")
		require.NoError(t, err)
		tmpfile.Close()

		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})
		worker.now = func() time.Time { return fixedNow }

		channels := &models.IngestionChannels{
			Jobs:    make(chan models.FileProcessingJob, 1),
			Results: make(chan *models.TripRow, 2),
			Errors:  make(chan models.AppError, 1),
		}
		waitGroups := &models.IngestionWaitGroups{ParserWg: &sync.WaitGroup{}}
		worker.WithChannels(channels).WithWaitGroups(waitGroups)

		waitGroups.ParserWg.Add(1)
		go worker.ParserWorker()

		channels.Jobs <- models.FileProcessingJob{FilePath: tmpfile.Name(), FileID: 1}
		close(channels.Jobs)
		waitGroups.ParserWg.Wait()

		require.Len(t, channels.Results, 1, "the row without a driver name is skipped")
		row := <-channels.Results
		assert.Equal(t, "Alice", row.DriverName)
		assert.Equal(t, "Completed", row.Status)
		assert.Equal(t, 1, row.FileID)
		require.NotNil(t, row.TripDate)
		assert.Equal(t, time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC), *row.TripDate)
		require.NotNil(t, row.Miles)
		assert.Equal(t, 12.5, *row.Miles)
		assert.NotEmpty(t, row.CheckSum)
		assert.Empty(t, channels.Errors)
	})

	t.Run("Success case - identical rows keep distinct checksums", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "twice.csv", csvHeader+"\nAlice,6/5 Thu,Completed,12\nAlice,6/5 Thu,Completed,12\n")

		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})
		worker.now = func() time.Time { return fixedNow }

		channels := &models.IngestionChannels{
			Jobs:    make(chan models.FileProcessingJob, 1),
			Results: make(chan *models.TripRow, 2),
			Errors:  make(chan models.AppError, 1),
		}
		waitGroups := &models.IngestionWaitGroups{ParserWg: &sync.WaitGroup{}}
		worker.WithChannels(channels).WithWaitGroups(waitGroups)

		waitGroups.ParserWg.Add(1)
		go worker.ParserWorker()

		channels.Jobs <- models.FileProcessingJob{FilePath: path, FileID: 1}
		close(channels.Jobs)
		waitGroups.ParserWg.Wait()

		require.Len(t, channels.Results, 2)
		first, second := <-channels.Results, <-channels.Results
		assert.Equal(t, first.Data, second.Data)
		assert.NotEqual(t, first.CheckSum, second.CheckSum)
	})

	t.Run("Error case - file not found", func(t *testing.T) {
		worker := NewAsyncWorker(new(MockDBManager), AsyncWorkerConfig{})

		channels := &models.IngestionChannels{
			Jobs:    make(chan models.FileProcessingJob, 1),
			Results: make(chan *models.TripRow, 1),
			Errors:  make(chan models.AppError, 1),
		}
		waitGroups := &models.IngestionWaitGroups{ParserWg: &sync.WaitGroup{}}
		worker.WithChannels(channels).WithWaitGroups(waitGroups)

		waitGroups.ParserWg.Add(1)
		go worker.ParserWorker()

		channels.Jobs <- models.FileProcessingJob{FilePath: "/non/existent/file.csv", FileID: 2}
		close(channels.Jobs)

		select {
		case <-channels.Results:
			t.Fatal("Expected an error, but got a trip")
		case appErr := <-channels.Errors:
			assert.Equal(t, 2, appErr.FileID)
			assert.Contains(t, appErr.Message, "Failed to parse file")
			assert.ErrorIs(t, appErr.Err, os.ErrNotExist)
		case <-time.After(1 * time.Second):
			t.Fatal("Test timed out waiting for error")
		}

		waitGroups.ParserWg.Wait()
	})
}

func TestAsyncWorker_PreprocessAndDispatchJobs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	newFile := writeFile(t, dir, "new.csv", csvHeader+"\nAlice,6/5 Thu,Completed,1\n")
	oldFile := writeFile(t, dir, "old.csv", csvHeader+"\nBob,6/6 Fri,Completed,1\n")

	dbManager := new(MockDBManager)
	dbManager.On("IsFileAlreadyProcessed", ctx, newFile, mock.AnythingOfType("string")).Return(false, nil).Once()
	dbManager.On("IsFileAlreadyProcessed", ctx, oldFile, mock.AnythingOfType("string")).Return(true, nil).Once()
	dbManager.On("InsertFileRecord", ctx, newFile, mock.AnythingOfType("time.Time"), database.FILE_STATUS_PROCESSING, mock.AnythingOfType("string")).Return(5, nil).Once()

	worker := NewAsyncWorker(dbManager, AsyncWorkerConfig{})
	channels := &models.IngestionChannels{Jobs: make(chan models.FileProcessingJob, 2)}
	waitGroups := &models.IngestionWaitGroups{MainWg: &sync.WaitGroup{}}
	worker.WithChannels(channels).WithWaitGroups(waitGroups)

	fileMap := make(models.FileMap)
	runner, wg, err := worker.SetupJobDispatcherWorker(ctx, []models.FileInfo{{Path: newFile}, {Path: oldFile}}, fileMap)
	require.NoError(t, err)
	runner.Run()
	wg.Wait()

	var jobs []models.FileProcessingJob
	for job := range channels.Jobs {
		jobs = append(jobs, job)
	}

	assert.Equal(t, []models.FileProcessingJob{{FilePath: newFile, FileID: 5}}, jobs)
	assert.Equal(t, models.FileMap{5: newFile}, fileMap)
	dbManager.AssertExpectations(t)
}
