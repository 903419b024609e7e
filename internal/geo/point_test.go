package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoint_LongitudeFirst(t *testing.T) {
	c, ok := ParsePoint("POINT(2.3522 48.8566)")
	require.True(t, ok)
	assert.Equal(t, 48.8566, c.Latitude)
	assert.Equal(t, 2.3522, c.Longitude)
}

func TestParsePoint_RoundTrip(t *testing.T) {
	pairs := [][2]float64{
		{2.3522, 48.8566},
		{-0.1278, 51.5074},
		{-179.999999, -89.5},
		{180, 90},
		{0, 0},
		{151.2093, -33.8688},
	}
	for _, p := range pairs {
		lon, lat := p[0], p[1]
		c, ok := ParsePoint(FormatPoint(Coordinate{Latitude: lat, Longitude: lon}))
		require.True(t, ok, "lon=%v lat=%v", lon, lat)
		assert.InDelta(t, lat, c.Latitude, 1e-9)
		assert.InDelta(t, lon, c.Longitude, 1e-9)
	}
}

func TestParsePoint_Variants(t *testing.T) {
	cases := map[string]Coordinate{
		"SRID=4326;POINT(2.35 48.85)": {Latitude: 48.85, Longitude: 2.35},
		"  POINT( -1 +2 )  ":          {Latitude: 2, Longitude: -1},
		"POINT(.5 -.25)":              {Latitude: -0.25, Longitude: 0.5},
		"POINT (10 20)":               {Latitude: 20, Longitude: 10},
	}
	for raw, want := range cases {
		got, ok := ParsePoint(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParsePoint_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"POINT()",
		"POINT(1 2",
		"POINT(1)",
		"POINT(1 2 3)",
		"POINT(a b)",
		"LINESTRING(1 2, 3 4)",
		"1 2",
		"point(1 2)",
		"POINT(1,2)",
	} {
		_, ok := ParsePoint(raw)
		assert.False(t, ok, "%q", raw)
	}
}

func TestParsePoint_NoRangeCheck(t *testing.T) {
	c, ok := ParsePoint("POINT(500 -120)")
	require.True(t, ok)
	assert.Equal(t, Coordinate{Latitude: -120, Longitude: 500}, c)
	assert.False(t, c.Valid())
}

func TestFromPair(t *testing.T) {
	c, ok := FromPair([]float64{2.3522, 48.8566})
	require.True(t, ok)
	assert.Equal(t, 48.8566, c.Latitude, "index 1 is latitude")
	assert.Equal(t, 2.3522, c.Longitude, "index 0 is longitude")

	for _, pair := range [][]float64{
		nil,
		{},
		{1},
		{1, 2, 3},
		{math.NaN(), 1},
		{1, math.Inf(1)},
	} {
		_, ok := FromPair(pair)
		assert.False(t, ok, "%v", pair)
	}
}

func TestFormatEWKT(t *testing.T) {
	assert.Equal(t, "SRID=4326;POINT(2.5 48)", FormatEWKT(Coordinate{Latitude: 48, Longitude: 2.5}, 4326))
}

func TestCoordinate_Valid(t *testing.T) {
	assert.True(t, Coordinate{Latitude: 90, Longitude: -180}.Valid())
	assert.False(t, Coordinate{Latitude: 90.1, Longitude: 0}.Valid())
	assert.False(t, Coordinate{Latitude: 0, Longitude: 180.5}.Valid())
	assert.False(t, Coordinate{Latitude: math.NaN()}.Valid())
}
