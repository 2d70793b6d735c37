// Package segment maps a GPS fix onto a segment of a street's ordered way-node list.
//
// The match is a heuristic: it takes the two way-nodes nearest to the fix, not the
// two nodes bracketing the fix's projection onto the path. On streets whose path
// curves back close to itself the two nearest nodes may not be adjacent, and the
// reported segment can then be wrong. Callers treat the result as an approximation.
package segment

import (
	"errors"
	"fmt"

	"github.com/mini-rodalies-3d/segmenter/internal/geo"
)

// ErrNotFound is returned when a street has fewer than two way-nodes.
var ErrNotFound = errors.New("segment not found")

// Node is a way-node of a street, in the order the node provider returned it
type Node struct {
	ID        int64
	Latitude  float64
	Longitude float64
}

// Match is the segment a fix was resolved to
type Match struct {
	StreetID   int64
	StreetName string
	Index      int     // position of the earlier of the two nodes in the street's node list
	LengthKm   float64 // great-circle distance between the two nodes
}

// Key returns the dedup key of the match within a passenger interval
func (m Match) Key() Key {
	return Key{Index: m.Index, StreetName: m.StreetName}
}

// Key identifies a segment by its index and sanitized street name.
// The index is only meaningful for the node ordering it was resolved against.
type Key struct {
	Index      int
	StreetName string
}

// Token renders the key as "<index>_<street name>"
func (k Key) Token() string {
	return fmt.Sprintf("%d_%s", k.Index, k.StreetName)
}

// Resolve finds the segment of nodes nearest to (lat, lon).
// Ties between equally distant nodes go to the one earlier in the list.
// A node listed more than once, like the closing node of a closed way, is
// matched at whichever of its positions neighbours the other nearest node.
func Resolve(lat, lon float64, nodes []Node) (Match, error) {
	if len(nodes) < 2 {
		return Match{}, fmt.Errorf("%w: street has %d nodes", ErrNotFound, len(nodes))
	}

	first, second := -1, -1
	var firstDist, secondDist float64
	for i, n := range nodes {
		d := geo.Distance(lat, lon, n.Latitude, n.Longitude)
		switch {
		case first < 0 || d < firstDist:
			second, secondDist = first, firstDist
			first, firstDist = i, d
		case second < 0 || d < secondDist:
			second, secondDist = i, d
		}
	}

	lo, hi := adjacentPair(nodes, first, second)

	return Match{
		Index: lo,
		LengthKm: geo.Distance(
			nodes[lo].Latitude, nodes[lo].Longitude,
			nodes[hi].Latitude, nodes[hi].Longitude,
		),
	}, nil
}

// adjacentPair orders positions i and j. When they are not neighbours, other
// positions of the same nodes are tried so that a closed way's closing segment
// is reported with its own index.
func adjacentPair(nodes []Node, i, j int) (int, int) {
	if i > j {
		i, j = j, i
	}
	if j-i == 1 {
		return i, j
	}
	for _, a := range positionsOf(nodes, i) {
		for _, b := range positionsOf(nodes, j) {
			switch a - b {
			case 1:
				return b, a
			case -1:
				return a, b
			}
		}
	}
	return i, j
}

// positionsOf lists every position holding the same node as nodes[i]
func positionsOf(nodes []Node, i int) []int {
	var out []int
	for k, n := range nodes {
		if n == nodes[i] {
			out = append(out, k)
		}
	}
	return out
}
