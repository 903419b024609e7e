package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearby-tasks/internal/geo"
)

func TestLocation_UnmarshalEncodings(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Location
	}{
		{"wkt", `"POINT(2.35 48.85)"`, Location{WKT: "POINT(2.35 48.85)"}},
		{"pair", `[2.35, 48.85]`, Location{Coordinates: []float64{2.35, 48.85}}},
		{"geojson", `{"type":"Point","coordinates":[2.35,48.85]}`, Location{Coordinates: []float64{2.35, 48.85}}},
		{"null", `null`, Location{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Location
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &got))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLocation_UnmarshalFlagsUnknownShapes(t *testing.T) {
	for _, raw := range []string{
		`42`,
		`true`,
		`["x","y"]`,
		`{"type":"LineString","coordinates":[[2.35,48.85],[2.36,48.86]]}`,
		`{"type":"Polygon","coordinates":[2.35,48.85]}`,
		`{"coordinates":"2.35 48.85"}`,
	} {
		var got Location
		require.NoError(t, json.Unmarshal([]byte(raw), &got), raw)
		assert.True(t, got.Malformed, raw)
		assert.False(t, got.IsZero(), raw)
		_, ok := got.Normalize()
		assert.False(t, ok, raw)
	}
}

func TestTask_ListWithBadLocationStillDecodes(t *testing.T) {
	raw := `[
		{"id":"a","title":"Good","location":"POINT(2.35 48.85)"},
		{"id":"b","title":"Bad","location":42}
	]`

	var tasks []Task
	require.NoError(t, json.Unmarshal([]byte(raw), &tasks))
	require.Len(t, tasks, 2)

	_, ok := tasks[0].Location.Normalize()
	assert.True(t, ok)
	_, ok = tasks[1].Location.Normalize()
	assert.False(t, ok)
}

func TestLocation_MalformedIsNotStored(t *testing.T) {
	_, err := Location{Malformed: true}.Value()
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestLocation_NormalizeBothEncodingsAgree(t *testing.T) {
	text := Location{WKT: "POINT(2.3522 48.8566)"}
	pair := Location{Coordinates: []float64{2.3522, 48.8566}}

	fromText, ok := text.Normalize()
	require.True(t, ok)
	fromPair, ok := pair.Normalize()
	require.True(t, ok)

	assert.Equal(t, fromText, fromPair)
	assert.Equal(t, geo.Coordinate{Latitude: 48.8566, Longitude: 2.3522}, fromPair)
}

func TestLocation_NormalizeInvalid(t *testing.T) {
	for _, l := range []Location{
		{},
		{WKT: "POINT()"},
		{WKT: "somewhere nice"},
		{Coordinates: []float64{}},
		{Coordinates: []float64{1}},
		// a broken pair does not fall back to the text form
		{Coordinates: []float64{1}, WKT: "POINT(1 2)"},
	} {
		_, ok := l.Normalize()
		assert.False(t, ok, "%+v", l)
	}
}

func TestTask_DecodesRemoteRow(t *testing.T) {
	raw := `{"id":"b6f1","user_id":"u1","title":"Buy bread","description":null,
		"location":{"type":"Point","coordinates":[2.35,48.85]},"done":false,
		"created_at":"2025-04-18T10:00:00Z"}`

	var task Task
	require.NoError(t, json.Unmarshal([]byte(raw), &task))

	assert.Equal(t, "b6f1", task.ID)
	assert.Equal(t, "", task.Description)
	c, ok := task.Location.Normalize()
	require.True(t, ok)
	assert.Equal(t, 48.85, c.Latitude)
}

func TestLocation_ValueAndScan(t *testing.T) {
	v, err := PointAt(geo.Coordinate{Latitude: 48.5, Longitude: 2.25}).Value()
	require.NoError(t, err)
	assert.Equal(t, "POINT(2.25 48.5)", v)

	var scanned Location
	require.NoError(t, scanned.Scan([]byte("POINT(2.25 48.5)")))
	c, ok := scanned.Normalize()
	require.True(t, ok)
	assert.Equal(t, 48.5, c.Latitude)

	v, err = Location{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Location{Coordinates: []float64{1}}.Value()
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestLocation_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(PointAt(geo.Coordinate{Latitude: 1, Longitude: 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[2,1]}`, string(out))

	out, err = json.Marshal(Location{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
