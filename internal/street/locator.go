package street

import (
	"context"
	"fmt"

	"github.com/mini-rodalies-3d/segmenter/internal/geo"
	"github.com/mini-rodalies-3d/segmenter/internal/segment"
)

// NodeProvider returns the ordered way-nodes of a street
type NodeProvider interface {
	WayNodes(ctx context.Context, wayID int64) ([]segment.Node, error)
}

// Locator resolves a fix to a street segment. Node lists are fetched fresh for every call.
type Locator struct {
	lookup *Lookup
	nodes  NodeProvider
}

// NewLocator chains a geocoder and a node provider
func NewLocator(g Geocoder, n NodeProvider) *Locator {
	return &Locator{lookup: NewLookup(g), nodes: n}
}

// Locate resolves lat/lon to a segment match. Errors are one of
// geo.ErrInvalidCoordinate, ErrNoStreetFound or segment.ErrNotFound; upstream
// failures are wrapped inside the last two.
func (l *Locator) Locate(ctx context.Context, lat, lon float64) (segment.Match, error) {
	if err := geo.ValidateCoordinate(lat, lon); err != nil {
		return segment.Match{}, err
	}

	st, err := l.lookup.FindStreet(ctx, lat, lon)
	if err != nil {
		return segment.Match{}, err
	}

	nodes, err := l.nodes.WayNodes(ctx, st.ID)
	if err != nil {
		return segment.Match{}, fmt.Errorf("%w: way %d: %w", segment.ErrNotFound, st.ID, err)
	}

	m, err := segment.Resolve(lat, lon, nodes)
	if err != nil {
		return segment.Match{}, fmt.Errorf("way %d: %w", st.ID, err)
	}
	m.StreetID = st.ID
	m.StreetName = st.Name
	return m, nil
}
