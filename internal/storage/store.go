// Package storage defines the capability both trip backends provide: persisting an
// uploaded trip file and answering filtered trip queries.
package storage

import (
	"context"
	"io"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

type Store interface {
	// SaveUpload persists content under filename and returns the stored name.
	SaveUpload(ctx context.Context, filename string, content io.Reader) (string, error)
	// QueryTrips returns the trips matching every predicate in filter, in storage order.
	QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error)
	// Kind names the backend, e.g. "csv" or "postgres".
	Kind() string
}
