package telemetry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// FeedSource reads fixes from recorded GTFS-Realtime vehicle position feeds.
// A vehicle carries a passenger when its occupancy status is anything but EMPTY.
type FeedSource struct {
	positions []*gtfs.VehiclePosition
	fallback  []uint64 // feed header timestamps, parallel to positions
	pos       int
}

// OpenFeed loads a FeedMessage file, or every .pb file of a directory in
// lexical order. An empty vehicleID keeps every vehicle.
func OpenFeed(path, vehicleID string) (*FeedSource, error) {
	files, err := feedFiles(path)
	if err != nil {
		return nil, err
	}

	s := &FeedSource{}
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read feed: %w", err)
		}
		feed := &gtfs.FeedMessage{}
		if err := proto.Unmarshal(body, feed); err != nil {
			return nil, fmt.Errorf("failed to parse protobuf %s: %w", filepath.Base(file), err)
		}
		s.add(feed, vehicleID)
	}
	return s, nil
}

func feedFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat feed: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pb") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	return files, nil
}

func (s *FeedSource) add(feed *gtfs.FeedMessage, vehicleID string) {
	headerTS := feed.GetHeader().GetTimestamp()
	for _, entity := range feed.Entity {
		vehicle := entity.Vehicle
		if vehicle == nil {
			continue
		}
		if vehicleID != "" && vehicle.GetVehicle().GetId() != vehicleID {
			continue
		}
		s.positions = append(s.positions, vehicle)
		s.fallback = append(s.fallback, headerTS)
	}
}

// Len returns the number of vehicle positions loaded
func (s *FeedSource) Len() int {
	return len(s.positions)
}

// Next returns the next fix. Rows count the loaded vehicle positions from 1.
func (s *FeedSource) Next() (Fix, error) {
	if s.pos >= len(s.positions) {
		return Fix{}, io.EOF
	}
	vehicle := s.positions[s.pos]
	headerTS := s.fallback[s.pos]
	s.pos++
	row := s.pos

	if vehicle.Position == nil {
		return Fix{}, &MalformedRecordError{Row: row, Field: "position"}
	}
	if vehicle.OccupancyStatus == nil {
		return Fix{}, &MalformedRecordError{Row: row, Field: "occupancy_status"}
	}

	ts := vehicle.GetTimestamp()
	if ts == 0 {
		ts = headerTS
	}
	var timestamp string
	if ts != 0 {
		timestamp = time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
	}

	return Fix{
		Row:       row,
		Timestamp: timestamp,
		Latitude:  float64(vehicle.Position.GetLatitude()),
		Longitude: float64(vehicle.Position.GetLongitude()),
		Passenger: *vehicle.OccupancyStatus != gtfs.VehiclePosition_EMPTY,
	}, nil
}
