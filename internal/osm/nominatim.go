package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultNominatimURL is the public Nominatim instance. Its usage policy allows
	// at most one request per second and requires an identifying User-Agent.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	reverseZoom = "18" // street level
)

// Nominatim is a reverse-geocoding client for the Nominatim /reverse endpoint
type Nominatim struct {
	c *client
}

// NewNominatim creates a Nominatim client
func NewNominatim(opts Options) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultNominatimURL
	}
	return &Nominatim{c: newClient("nominatim", opts)}
}

// Reverse looks up the OSM object nearest to lat/lon.
// "Unable to geocode" answers are returned as an empty Place, not an error.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", reverseZoom)
	q.Set("addressdetails", "1")
	endpoint := strings.TrimRight(n.c.baseURL, "/") + "/reverse?" + q.Encode()

	body, err := n.c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, nil)
	if err != nil {
		return Place{}, err
	}

	var data reverseResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return Place{}, fmt.Errorf("nominatim: failed to decode response: %w", err)
	}
	if data.Error != "" {
		n.c.logger.WithField("lat", lat).WithField("lon", lon).Debugf("Nominatim: %s", data.Error)
		return Place{}, nil
	}

	return Place{
		OSMType:     data.OSMType,
		OSMID:       data.OSMID,
		Road:        data.Address.Road,
		DisplayName: data.DisplayName,
	}, nil
}
