package geo

import "math"

// Coordinate is a position in degrees. Latitude comes first here; the stored
// encodings (WKT text and [lon, lat] pairs) put longitude first.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is finite and inside the WGS 84 ranges.
func (c Coordinate) Valid() bool {
	if !finite(c.Latitude) || !finite(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// FromPair reads a structured [lon, lat] pair. Values are only checked for
// finiteness, out-of-range degrees are passed through.
func FromPair(pair []float64) (Coordinate, bool) {
	if len(pair) != 2 {
		return Coordinate{}, false
	}
	lon, lat := pair[0], pair[1]
	if !finite(lon) || !finite(lat) {
		return Coordinate{}, false
	}
	return Coordinate{Latitude: lat, Longitude: lon}, true
}

// Pair returns the coordinate as [lon, lat].
func (c Coordinate) Pair() []float64 {
	return []float64{c.Longitude, c.Latitude}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
