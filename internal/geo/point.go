package geo

import (
	"regexp"
	"strconv"
	"strings"
)

// pointPattern matches "POINT(<lon> <lat>)" with an optional EWKT "SRID=<n>;" prefix.
var pointPattern = regexp.MustCompile(`^(?:SRID=\d+;)?POINT\s*\(\s*([-+]?(?:\d+\.?\d*|\.\d+))\s+([-+]?(?:\d+\.?\d*|\.\d+))\s*\)$`)

// ParsePoint reads the textual point notation POINT(<lon> <lat>).
// It returns false for anything else, including an empty string.
func ParsePoint(raw string) (Coordinate, bool) {
	m := pointPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Coordinate{}, false
	}
	return FromPair([]float64{lon, lat})
}

// FormatPoint renders c as POINT(<lon> <lat>).
func FormatPoint(c Coordinate) string {
	return "POINT(" + strconv.FormatFloat(c.Longitude, 'f', -1, 64) + " " +
		strconv.FormatFloat(c.Latitude, 'f', -1, 64) + ")"
}

// FormatEWKT renders c with an SRID prefix, the form PostGIS accepts for
// geography columns.
func FormatEWKT(c Coordinate, srid int) string {
	return "SRID=" + strconv.Itoa(srid) + ";" + FormatPoint(c)
}
