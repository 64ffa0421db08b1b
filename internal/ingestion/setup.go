package ingestion

import (
	"sync"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

type ISetup interface {
	build(resultsChannelSize int) (models.SetupReturn, error)
}

type Setup struct{}

// Instantiate all channels and data structure we will use in the concurrent ingestion process
// Its useful to have it in a separated struct to be able to leverage DI for testing
func (h Setup) build(resultsChannelSize int) (models.SetupReturn, error) {
	channels := models.IngestionChannels{
		Results: make(chan *models.TripRow, resultsChannelSize),
		Errors:  make(chan models.AppError, 100),
		Jobs:    make(chan models.FileProcessingJob, 100),
	}

	var parserWg, dbWg, mainWg sync.WaitGroup
	fileMap := make(models.FileMap)
	fileErrorsMap := models.FileErrorMap{Errors: make(map[int][]models.AppError)}
	return models.SetupReturn{
		Channels:      &channels,
		WaitGroups:    &models.IngestionWaitGroups{ParserWg: &parserWg, DbWg: &dbWg, MainWg: &mainWg},
		FileMap:       &fileMap,
		FileErrorsMap: &fileErrorsMap,
	}, nil
}
