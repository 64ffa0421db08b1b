package trips

import (
	"strings"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/parser"
	"github.com/shopspring/decimal"
)

// Statuses counted as a finished trip in summaries.
var completedStatuses = map[string]bool{
	"completed": true,
	"noshow":    true,
}

// Summarize totals the miles column and counts completed or no-show trips.
// Rows with a missing or non-numeric miles value add nothing to the total.
func Summarize(rows []models.Trip) models.Summary {
	if rows == nil {
		rows = []models.Trip{}
	}

	total := decimal.Zero
	completed := 0
	for _, trip := range rows {
		if miles, ok := parser.ParseMiles(trip); ok {
			total = total.Add(miles)
		}
		if completedStatuses[strings.ToLower(trip.Status())] {
			completed++
		}
	}

	return models.Summary{
		Trips:          rows,
		TotalMileage:   total.InexactFloat64(),
		CompletedTrips: completed,
	}
}
