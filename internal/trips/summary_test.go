package trips

import (
	"testing"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	t.Run("totals miles and counts finished trips", func(t *testing.T) {
		rows := []models.Trip{
			{"Driver Name": "Alice", "Status": "Completed", "Miles": "12.5"},
			{"Driver Name": "Bob", "Status": "noshow", "Miles": "0.1"},
			{"Driver Name": "Carol", "Status": "Pending", "Miles": "0.2"},
			{"Driver Name": "Dan", "Status": "cancelled", "Miles": "n/a"},
			{"Driver Name": "Eve", "Status": "COMPLETED"},
		}

		summary := Summarize(rows)

		assert.Equal(t, rows, summary.Trips)
		assert.Equal(t, 12.8, summary.TotalMileage)
		assert.Equal(t, 3, summary.CompletedTrips)
	})

	t.Run("never returns nil trips", func(t *testing.T) {
		summary := Summarize(nil)

		assert.Equal(t, models.Summary{Trips: []models.Trip{}}, summary)
	})
}
