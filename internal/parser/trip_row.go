package parser

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/pkg/checksum"
	"github.com/shopspring/decimal"
)

// ParseMiles reads the trip's miles column. Missing or non-numeric values report false.
func ParseMiles(trip models.Trip) (decimal.Decimal, bool) {
	raw, ok := trip.Get(models.ColumnMiles)
	if !ok {
		return decimal.Zero, false
	}
	miles, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(raw, ",", "")))
	if err != nil {
		return decimal.Zero, false
	}
	return miles, true
}

// ToTripRow normalises a parsed trip read from line of source for insertion. The
// trip date follows the custom date rule relative to now.
func ToTripRow(trip models.Trip, source string, fileID, line int, now time.Time) *models.TripRow {
	row := &models.TripRow{
		FileID:     fileID,
		DriverName: trip.DriverName(),
		Status:     trip.Status(),
		Data:       trip,
		CheckSum:   RowChecksum(source, fileID, line, trip),
	}

	if raw, ok := trip.Get(models.ColumnDate); ok {
		if date, ok := ParseCustomDate(raw, now); ok {
			row.TripDate = &date
		}
	}

	if miles, ok := ParseMiles(trip); ok {
		f := miles.InexactFloat64()
		row.Miles = &f
	}

	return row
}

// RowChecksum identifies one row of one ingested file version. Identical rows on
// different lines, or in different files, hash differently; the column/value pairs
// are taken in column-name order.
func RowChecksum(source string, fileID, line int, trip models.Trip) string {
	keys := make([]string, 0, len(trip))
	for k := range trip {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys)+3)
	fields = append(fields,
		"file="+source,
		"file_id="+strconv.Itoa(fileID),
		"line="+strconv.Itoa(line),
	)
	for _, k := range keys {
		fields = append(fields, k+"="+trip[k])
	}
	return checksum.CalculateHash(fields)
}
