package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ThiagoRGoveia/driver-trips/internal/models"
)

const utf8BOM = "\ufeff"

// EmitFunc receives each row that carries a driver name, with its 1-based line number.
type EmitFunc func(line int, trip models.Trip) error

// SkipFunc receives rows discarded for a missing or empty driver name.
type SkipFunc func(line int, trip models.Trip)

// StreamTrips reads r one record at a time, using the first record as the header.
// A record shorter than the header has its missing columns set to "", and a quote
// inside an unquoted field is kept as text. A record longer than the header, a
// quoted field that is never closed, or duplicate header names stop the stream
// with an error wrapping models.ErrCSVParse. An empty input yields no rows and no
// error.
//
// Blank lines are dropped by the reader and never reach skip.
func StreamTrips(r io.Reader, source string, emit EmitFunc, skip SkipFunc) error {
	quotes := &quoteTracker{r: r}
	reader := csv.NewReader(quotes)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%w: failed to read header from %s: %v", models.ErrCSVParse, source, err)
	}
	columns, err := normaliseHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrCSVParse, source, err)
	}

	record, err := reader.Read()
	for {
		if err == io.EOF {
			if quotes.inQuotes() {
				return fmt.Errorf("%w: %s: quoted header field is never closed", models.ErrCSVParse, source)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read record from %s: %v", models.ErrCSVParse, source, err)
		}

		line, _ := reader.FieldPos(0)
		if len(record) > len(columns) {
			return fmt.Errorf("%w: %s line %d has %d fields, header has %d",
				models.ErrCSVParse, source, line, len(record), len(columns))
		}

		trip := make(models.Trip, len(columns))
		for i, column := range columns {
			if i < len(record) {
				trip[column] = record[i]
			} else {
				trip[column] = ""
			}
		}

		// An unclosed quote swallows the rest of the input, so it can only show up
		// on the final record.
		record, err = reader.Read()
		if err == io.EOF && quotes.inQuotes() {
			return fmt.Errorf("%w: %s line %d: quoted field is never closed", models.ErrCSVParse, source, line)
		}

		if trip.DriverName() == "" {
			if skip != nil {
				skip(line, trip)
			}
			continue
		}

		if err := emit(line, trip); err != nil {
			return err
		}
	}
}

// StreamTripFile opens filePath and streams it through StreamTrips.
func StreamTripFile(filePath string, emit EmitFunc, skip SkipFunc) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	return StreamTrips(file, filePath, emit, skip)
}

func normaliseHeader(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		if seen[name] {
			return nil, errors.New("duplicate header " + name)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}

type quoteState int

const (
	fieldStart quoteState = iota
	unquoted
	quoted
	quoteInQuoted
)

// quoteTracker follows the quoting state of the bytes passing through it, using
// the rules the csv reader applies with LazyQuotes set.
type quoteTracker struct {
	r     io.Reader
	state quoteState
}

func (q *quoteTracker) Read(p []byte) (int, error) {
	n, err := q.r.Read(p)
	for _, b := range p[:n] {
		q.state = q.state.next(b)
	}
	return n, err
}

func (q *quoteTracker) inQuotes() bool {
	return q.state == quoted
}

func (s quoteState) next(b byte) quoteState {
	switch s {
	case quoted:
		if b == '"' {
			return quoteInQuoted
		}
		return quoted
	case quoteInQuoted:
		switch b {
		case '"':
			return quoted
		case '\r':
			return quoteInQuoted
		case ',', '\n':
			return fieldStart
		}
		return quoted
	}
	switch b {
	case ',', '\n':
		return fieldStart
	case '"':
		if s == fieldStart {
			return quoted
		}
	}
	return unquoted
}
