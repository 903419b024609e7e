package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"nearby-tasks/internal/geo"
)

// Location is the raw position stored on a task. It arrives in one of two
// encodings, both longitude first:
//
//   - text:       "POINT(<lon> <lat>)" (optionally "SRID=4326;" prefixed)
//   - structured: [lon, lat], bare or as GeoJSON {"type":"Point","coordinates":[lon, lat]}
//
// Do not read Coordinates as [lat, lon].
//
// Payloads in any other shape decode without error but are flagged Malformed
// and never normalize, so one bad row cannot fail a whole task list.
type Location struct {
	WKT         string
	Coordinates []float64
	Malformed   bool
}

// PointAt builds a structured location for c.
func PointAt(c geo.Coordinate) Location {
	return Location{Coordinates: c.Pair()}
}

// IsZero reports whether no position was stored.
func (l Location) IsZero() bool {
	return l.WKT == "" && l.Coordinates == nil && !l.Malformed
}

// Normalize converts the stored payload into a coordinate. When a structured
// pair is present it wins over the text form. It returns false for malformed
// or missing data so callers can skip the task instead of failing.
func (l Location) Normalize() (geo.Coordinate, bool) {
	if l.Malformed {
		return geo.Coordinate{}, false
	}
	if l.Coordinates != nil {
		return geo.FromPair(l.Coordinates)
	}
	if l.WKT == "" {
		return geo.Coordinate{}, false
	}
	return geo.ParsePoint(l.WKT)
}

// String renders the location as WKT text when it can be normalized.
func (l Location) String() string {
	if c, ok := l.Normalize(); ok {
		return geo.FormatPoint(c)
	}
	return l.WKT
}

type geoJSONPoint struct {
	Type        string    `json:"type,omitempty"`
	Coordinates []float64 `json:"coordinates"`
}

func (l *Location) UnmarshalJSON(data []byte) error {
	*l = Location{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var err error
	switch trimmed[0] {
	case '"':
		err = json.Unmarshal(trimmed, &l.WKT)
	case '[':
		err = json.Unmarshal(trimmed, &l.Coordinates)
	case '{':
		var point geoJSONPoint
		if err = json.Unmarshal(trimmed, &point); err == nil {
			if point.Type != "" && point.Type != "Point" {
				err = fmt.Errorf("geometry %q is not a point", point.Type)
			}
			l.Coordinates = point.Coordinates
		}
	default:
		err = fmt.Errorf("unsupported json %s", trimmed)
	}
	if err != nil {
		*l = Location{Malformed: true}
	}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	switch {
	case l.Malformed:
		return []byte("null"), nil
	case l.Coordinates != nil:
		return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: l.Coordinates})
	case l.WKT != "":
		return json.Marshal(l.WKT)
	default:
		return []byte("null"), nil
	}
}

// Value stores the location as WKT text.
func (l Location) Value() (driver.Value, error) {
	if l.Malformed {
		return nil, ErrInvalidLocation
	}
	if l.IsZero() {
		return nil, nil
	}
	if l.Coordinates != nil {
		c, ok := geo.FromPair(l.Coordinates)
		if !ok {
			return nil, ErrInvalidLocation
		}
		return geo.FormatPoint(c), nil
	}
	return l.WKT, nil
}

func (l *Location) Scan(src any) error {
	*l = Location{}
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		l.WKT = v
	case []byte:
		l.WKT = string(v)
	default:
		return fmt.Errorf("location: cannot scan %T", src)
	}
	return nil
}
