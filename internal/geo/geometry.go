package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius. Every distance in this module is in kilometers.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90], longitudes
// outside [-180, 180] and non-finite values.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Distance calculates the great-circle (Haversine) distance between two points in kilometers
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// ValidateCoordinate checks that lat/lon are finite WGS84 degrees
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return nil
}
