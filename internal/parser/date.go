package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

// Trip files carry dates such as "6/5 Thu": month and day only, with optional trailing text.
var customDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})`)

// timeNow is swapped in tests.
var timeNow = time.Now

// ParseCustomDate extracts the leading M/D token of dateStr and places it in the
// calendar year of now. It reports false when there is no M/D prefix or when the
// month/day pair is not a real date in that year.
func ParseCustomDate(dateStr string, now time.Time) (time.Time, bool) {
	match := customDatePattern.FindStringSubmatch(dateStr)
	if match == nil {
		return time.Time{}, false
	}

	month, _ := strconv.Atoi(match[1])
	day, _ := strconv.Atoi(match[2])
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	date := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, now.Location())
	// time.Date normalises 2/30 into March; a rollover means the day does not exist.
	if date.Month() != time.Month(month) || date.Day() != day {
		return time.Time{}, false
	}

	return date, true
}

// TripDate applies ParseCustomDate to the trip's Date column using the current time.
func TripDate(trip models.Trip) (time.Time, bool) {
	raw, ok := trip.Get(models.ColumnDate)
	if !ok {
		return time.Time{}, false
	}
	return ParseCustomDate(raw, timeNow())
}

// FilterDateFormats names the layouts ParseFilterDate accepts, for error messages.
const FilterDateFormats = "YYYY-MM-DD, M/D/YYYY or RFC 3339"

var filterDateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	time.RFC3339,
}

// ParseFilterDate parses a startDate/endDate query value and truncates it to a
// calendar day in loc.
func ParseFilterDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range filterDateLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q, use %s", models.ErrInvalidFilter, value, FilterDateFormats)
}
