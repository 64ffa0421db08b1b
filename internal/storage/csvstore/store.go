// Package csvstore keeps uploaded trip files on local disk and answers queries by
// streaming every stored CSV file on each request.
package csvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/driver-trips/internal/logging"
	"github.com/ThiagoRGoveia/driver-trips/internal/metrics"
	"github.com/ThiagoRGoveia/driver-trips/internal/models"
	"github.com/ThiagoRGoveia/driver-trips/internal/parser"
	"github.com/ThiagoRGoveia/driver-trips/internal/trips"
	"golang.org/x/sync/errgroup"
)

const (
	Kind         = "csv"
	csvExtension = ".csv"
)

type Store struct {
	dir                string
	maxConcurrentFiles int
	now                func() time.Time
}

// New returns a store rooted at dir. maxConcurrentFiles bounds how many files a
// single query streams at once; zero means no bound.
func New(dir string, maxConcurrentFiles int) *Store {
	return &Store{
		dir:                dir,
		maxConcurrentFiles: maxConcurrentFiles,
		now:                time.Now,
	}
}

func (s *Store) Kind() string {
	return Kind
}

// Dir is the folder uploads are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk location of a stored file.
func (s *Store) Path(storedName string) string {
	return filepath.Join(s.dir, storedName)
}

// SaveUpload writes content to the upload folder under the base name of filename,
// replacing any file already stored under that name. The folder is created on first use.
func (s *Store) SaveUpload(ctx context.Context, filename string, content io.Reader) (string, error) {
	name := sanitizeFilename(filename)
	if name == "" {
		return "", fmt.Errorf("%w: invalid filename %q", models.ErrMissingFile, filename)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload folder %s: %w", s.dir, err)
	}

	// Write to a temp file first so a concurrent query never reads a half written CSV.
	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", s.dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write upload %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload %s: %w", name, err)
	}

	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		return "", fmt.Errorf("failed to store upload %s: %w", name, err)
	}

	logging.Ctx(ctx).Info().Str("file", name).Msg("file stored")
	return name, nil
}

// sanitizeFilename strips any directory components a client may have sent.
func sanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch name {
	case ".", "..", "/", "":
		return ""
	}
	if strings.HasPrefix(name, ".upload-") {
		return ""
	}
	return name
}

// ListFiles returns the names of stored CSV files in lexical order.
func (s *Store) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read upload folder %s: %w", s.dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), csvExtension) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

// QueryTrips streams every stored CSV file concurrently and returns the matching
// rows, ordered by file name and then by position within the file. Every stream
// runs to completion; if any of them fails the whole query fails with
// models.ErrCSVParse and no rows are returned.
func (s *Store) QueryTrips(ctx context.Context, filter models.Filter) ([]models.Trip, error) {
	start := time.Now()
	defer metrics.ObserveQuery(Kind, start)

	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, models.ErrNoDataAvailable
	}

	log := logging.Ctx(ctx)
	now := s.now()
	perFile := make([][]models.Trip, len(files))

	var g errgroup.Group
	if s.maxConcurrentFiles > 0 {
		g.SetLimit(s.maxConcurrentFiles)
	}

	for i, name := range files {
		g.Go(func() error {
			var matched []models.Trip
			err := parser.StreamTripFile(s.Path(name),
				func(line int, trip models.Trip) error {
					if trips.Matches(trip, filter, now) {
						matched = append(matched, trip)
					}
					return nil
				},
				func(line int, trip models.Trip) {
					metrics.RowsSkipped.Inc()
					log.Warn().Str("file", name).Int("line", line).Msg("row has no driver name, skipping")
				},
			)
			if err != nil {
				metrics.CSVParseErrors.Inc()
				log.Error().Err(err).Str("file", name).Msg("failed to stream trip file")
				if !errors.Is(err, models.ErrCSVParse) {
					err = fmt.Errorf("%w: %v", models.ErrCSVParse, err)
				}
				return err
			}
			perFile[i] = matched
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, matched := range perFile {
		total += len(matched)
	}
	result := make([]models.Trip, 0, total)
	for _, matched := range perFile {
		result = append(result, matched...)
	}

	log.Debug().Int("files", len(files)).Int("matches", len(result)).Msg("trip query finished")
	return result, nil
}
