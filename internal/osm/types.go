package osm

// Place is the part of a Nominatim reverse-geocoding result the segmenter uses.
// A zero OSMID means Nominatim found nothing at the location.
type Place struct {
	OSMType     string
	OSMID       int64
	Road        string
	DisplayName string
}

// reverseResponse mirrors the Nominatim /reverse jsonv2 payload
type reverseResponse struct {
	PlaceID     int64  `json:"place_id"`
	OSMType     string `json:"osm_type"`
	OSMID       int64  `json:"osm_id"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Road string `json:"road"`
	} `json:"address"`
	Error string `json:"error"`
}

// overpassResponse mirrors an Overpass API [out:json] payload
type overpassResponse struct {
	Remark   string            `json:"remark"`
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type  string  `json:"type"`
	ID    int64   `json:"id"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Nodes []int64 `json:"nodes"`
}
