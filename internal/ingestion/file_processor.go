package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ThiagoRGoveia/driver-trips/internal/database"
	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

// Processor defines the interface for file processing operations.
type Processor interface {
	ScanForFiles(rootPath string) ([]models.FileInfo, error)
	UpdateFileStatus(ctx context.Context, fileErrorsMap *models.FileErrorMap, fileMap *models.FileMap) error
}

// FileProcessor handles the stages around the workers: discovering files before
// the run and recording each file's outcome after it.
type FileProcessor struct {
	dbManager database.DBManager
}

func NewFileProcessor(dbManager database.DBManager) *FileProcessor {
	return &FileProcessor{
		dbManager: dbManager,
	}
}

// ScanForFiles walks rootPath and returns every file with a .csv extension, in lexical order.
func (fp *FileProcessor) ScanForFiles(rootPath string) ([]models.FileInfo, error) {
	var fileInfos []models.FileInfo
	logging.Info().Str("path", rootPath).Msg("scanning for files")

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".csv") {
			logging.Debug().Str("file", path).Msg("not a csv file, skipping")
			return nil
		}
		fileInfos = append(fileInfos, models.FileInfo{Path: path})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("error walking directory %s: %w", rootPath, err)
	}

	logging.Info().Int("files", len(fileInfos)).Msg("found files to process")
	return fileInfos, nil
}

func (fp *FileProcessor) UpdateFileStatus(ctx context.Context, fileErrorsMap *models.FileErrorMap, fileMap *models.FileMap) error {
	for fileID := range *fileMap {
		appErrors := fileErrorsMap.Errors[fileID]
		status := database.FILE_STATUS_DONE
		if len(appErrors) > 0 {
			status = database.FILE_STATUS_DONE_WITH_ERRORS
		}

		if err := fp.dbManager.UpdateFileStatus(ctx, fileID, status, appErrors); err != nil {
			logging.Error().Err(err).Int("file_id", fileID).Msg("failed to update file status")
		}
	}
	return nil
}
