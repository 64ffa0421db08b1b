package trips

import (
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/parser"
)

// Matches reports whether trip passes every predicate supplied in f. Dates are read
// with the custom date rule in the year of now; a trip whose date cannot be read
// fails any query that sets a date bound.
func Matches(trip models.Trip, f models.Filter, now time.Time) bool {
	driverName := trip.DriverName()
	if driverName == "" {
		return false
	}

	if f.DriverName != "" && !strings.Contains(strings.ToLower(driverName), strings.ToLower(f.DriverName)) {
		return false
	}

	if f.HasDateBounds() {
		raw, _ := trip.Get(models.ColumnDate)
		tripDate, ok := parser.ParseCustomDate(raw, now)
		if !ok {
			return false
		}
		if f.StartDate != nil && tripDate.Before(*f.StartDate) {
			return false
		}
		if f.EndDate != nil && tripDate.After(*f.EndDate) {
			return false
		}
	}

	if f.Status != "" && !strings.EqualFold(trip.Status(), f.Status) {
		return false
	}

	return true
}
