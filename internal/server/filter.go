package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/parser"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type tripsQuery struct {
	DriverName string `validate:"max=200"`
	StartDate  string `validate:"max=64"`
	EndDate    string `validate:"max=64"`
	Status     string `validate:"max=100"`
}

// parseFilter reads the optional driverName, startDate, endDate and status
// parameters. Blank values impose no constraint.
func parseFilter(values url.Values, loc *time.Location) (models.Filter, error) {
	q := tripsQuery{
		DriverName: strings.TrimSpace(values.Get("driverName")),
		StartDate:  strings.TrimSpace(values.Get("startDate")),
		EndDate:    strings.TrimSpace(values.Get("endDate")),
		Status:     strings.TrimSpace(values.Get("status")),
	}

	if err := validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return models.Filter{}, fmt.Errorf("%w: %s is too long", models.ErrInvalidFilter, lowerFirst(fieldErrs[0].Field()))
		}
		return models.Filter{}, fmt.Errorf("%w: %v", models.ErrInvalidFilter, err)
	}

	filter := models.Filter{DriverName: q.DriverName, Status: q.Status}

	if q.StartDate != "" {
		start, err := parser.ParseFilterDate(q.StartDate, loc)
		if err != nil {
			return models.Filter{}, fmt.Errorf("startDate: %w", err)
		}
		filter.StartDate = &start
	}
	if q.EndDate != "" {
		end, err := parser.ParseFilterDate(q.EndDate, loc)
		if err != nil {
			return models.Filter{}, fmt.Errorf("endDate: %w", err)
		}
		filter.EndDate = &end
	}

	return filter, nil
}

func filterErrorMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "startDate"):
		return "Invalid startDate. Use " + parser.FilterDateFormats + "."
	case strings.HasPrefix(msg, "endDate"):
		return "Invalid endDate. Use " + parser.FilterDateFormats + "."
	}
	if _, detail, ok := strings.Cut(msg, models.ErrInvalidFilter.Error()+": "); ok {
		return "Invalid query: " + detail + "."
	}
	return "Invalid query parameters."
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
