// Package telemetry reads vehicle GPS fixes from recorded inputs.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Input formats
const (
	FormatCSV    = "csv"
	FormatGTFSRT = "gtfsrt"
)

// Fix is one GPS sample of the vehicle, in input order
type Fix struct {
	Row       int
	Timestamp string // raw, as recorded
	Latitude  float64
	Longitude float64
	Passenger bool
}

// MalformedRecordError is returned by Next for a row that was skipped.
// Reading can continue after it.
type MalformedRecordError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("row %d: malformed %s %q: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("row %d: malformed %s %q", e.Row, e.Field, e.Value)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// Source yields fixes in input order. Next returns io.EOF when exhausted and a
// *MalformedRecordError for a skipped row.
type Source interface {
	Next() (Fix, error)
}

// Open opens path as a fix source. An empty format is detected from the path:
// directories and .pb files are GTFS-Realtime feeds, anything else is CSV.
// vehicleID only applies to GTFS-Realtime input.
func Open(path, format, vehicleID string) (Source, error) {
	if format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	switch format {
	case FormatCSV:
		return OpenCSV(path)
	case FormatGTFSRT:
		return OpenFeed(path, vehicleID)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// DetectFormat guesses the input format of path
func DetectFormat(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat input: %w", err)
	}
	if info.IsDir() || strings.EqualFold(filepath.Ext(path), ".pb") {
		return FormatGTFSRT, nil
	}
	return FormatCSV, nil
}
