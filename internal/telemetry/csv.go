package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

// csvRecord is a row of the taxi route export. Values stay as text so a bad
// cell only skips its own row.
type csvRecord struct {
	DeviceDateTime string `csv:"DeviceDateTime"`
	Passenger      string `csv:"Di2"`
	Latitude       string `csv:"Latitude"`
	Longitude      string `csv:"Longitute,Longitude"`
}

// CSVSource reads fixes from a CSV file with a header row
type CSVSource struct {
	records []*csvRecord
	pos     int
}

// OpenCSV loads the CSV file at path
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV loads CSV fixes from r
func ReadCSV(r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []*csvRecord
	if err := gocsv.UnmarshalCSV(reader, &records); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return &CSVSource{}, nil
		}
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return &CSVSource{records: records}, nil
}

// Len returns the number of data rows
func (s *CSVSource) Len() int {
	return len(s.records)
}

// Next returns the next fix. Row numbers are file line numbers, the header being line 1.
func (s *CSVSource) Next() (Fix, error) {
	if s.pos >= len(s.records) {
		return Fix{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	row := s.pos + 1

	passenger, err := parseFlag(rec.Passenger)
	if err != nil {
		return Fix{}, &MalformedRecordError{Row: row, Field: "Di2", Value: rec.Passenger, Err: err}
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(rec.Latitude), 64)
	if err != nil {
		return Fix{}, &MalformedRecordError{Row: row, Field: "Latitude", Value: rec.Latitude, Err: err}
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(rec.Longitude), 64)
	if err != nil {
		return Fix{}, &MalformedRecordError{Row: row, Field: "Longitude", Value: rec.Longitude, Err: err}
	}

	return Fix{
		Row:       row,
		Timestamp: rec.DeviceDateTime,
		Latitude:  lat,
		Longitude: lon,
		Passenger: passenger,
	}, nil
}

// parseFlag accepts 0/1, true/false and numeric exports such as "1.0"
func parseFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, fmt.Errorf("not a passenger flag")
	}
	switch f {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("passenger flag out of range")
}
