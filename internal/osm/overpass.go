package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mini-rodalies-3d/segmenter/internal/segment"
)

// DefaultOverpassURL is the main public Overpass API instance
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// Overpass fetches the way-nodes of a street from an Overpass API interpreter
type Overpass struct {
	c *client
}

// NewOverpass creates an Overpass client. BaseURL is the full interpreter URL.
func NewOverpass(opts Options) *Overpass {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOverpassURL
	}
	return &Overpass{c: newClient("overpass", opts)}
}

// wayNodesQuery returns the way itself (for its node order) followed by its nodes
func wayNodesQuery(wayID int64) string {
	return fmt.Sprintf("[out:json];way(%d);out body;node(w);out;", wayID)
}

// WayNodes returns the nodes of the given way in path order.
//
// node(w) lists nodes by id, not by position, so when the way element is in the
// response its "nodes" list decides the order. The closing node of a closed way
// appears at both ends, so the closing segment keeps its own index.
// A reply with no elements and a runtime remark (query timeout, server load)
// is retried like a failed request.
func (o *Overpass) WayNodes(ctx context.Context, wayID int64) ([]segment.Node, error) {
	form := url.Values{}
	form.Set("data", wayNodesQuery(wayID))
	payload := form.Encode()

	var data overpassResponse
	_, err := o.c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.c.baseURL, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, func(body []byte) error {
		data = overpassResponse{}
		if err := json.Unmarshal(body, &data); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if len(data.Elements) == 0 && data.Remark != "" {
			return fmt.Errorf("%w: %s", ErrTransient, data.Remark)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return orderWayNodes(wayID, data.Elements), nil
}

func orderWayNodes(wayID int64, elements []overpassElement) []segment.Node {
	var refs []int64
	byID := make(map[int64]segment.Node)
	var inResponseOrder []segment.Node
	for _, el := range elements {
		switch el.Type {
		case "way":
			if el.ID == wayID {
				refs = el.Nodes
			}
		case "node":
			n := segment.Node{ID: el.ID, Latitude: el.Lat, Longitude: el.Lon}
			byID[el.ID] = n
			inResponseOrder = append(inResponseOrder, n)
		}
	}
	if len(refs) == 0 {
		return inResponseOrder
	}

	nodes := make([]segment.Node, 0, len(refs))
	for _, ref := range refs {
		if n, ok := byID[ref]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
