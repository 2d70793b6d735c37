// Package street turns a GPS fix into a street identity and, through the
// street's way-nodes, into a segment match.
package street

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mini-rodalies-3d/segmenter/internal/osm"
)

// PlaceholderName stands in for streets the geocoder returned without a name
const PlaceholderName = "Unnamed Street"

// ErrNoStreetFound is returned when the geocoder has no street at a location,
// or could not be reached.
var ErrNoStreetFound = errors.New("no street found")

// unsafeRun matches whitespace and characters that cannot appear in a key token or filename
var unsafeRun = regexp.MustCompile(`[\s/\\:*?"<>|,]+`)

// Geocoder reverse-geocodes a coordinate to an OSM place
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (osm.Place, error)
}

// Street is a reverse-geocoded street
type Street struct {
	ID      int64
	Name    string // sanitized
	RawName string
}

// Lookup finds the street at a coordinate
type Lookup struct {
	geocoder Geocoder
}

// NewLookup creates a Lookup backed by the given geocoder
func NewLookup(g Geocoder) *Lookup {
	return &Lookup{geocoder: g}
}

// FindStreet returns the street at lat/lon.
// A geocoder failure is reported as ErrNoStreetFound wrapping the cause.
func (l *Lookup) FindStreet(ctx context.Context, lat, lon float64) (Street, error) {
	place, err := l.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		return Street{}, fmt.Errorf("%w: %w", ErrNoStreetFound, err)
	}
	if place.OSMID == 0 {
		return Street{}, ErrNoStreetFound
	}

	raw := place.Road
	if strings.TrimSpace(raw) == "" {
		raw = PlaceholderName
	}
	return Street{
		ID:      place.OSMID,
		Name:    Sanitize(raw),
		RawName: raw,
	}, nil
}

// Sanitize makes a street name safe to use in a key token or filename:
// runs of whitespace and unsafe characters become a single "_".
func Sanitize(name string) string {
	s := strings.Trim(unsafeRun.ReplaceAllString(name, "_"), "_")
	if s == "" {
		return Sanitize(PlaceholderName)
	}
	return s
}
