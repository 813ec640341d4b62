package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters_KnownValues(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		{"same point", 40, -74, 40, -74, 0, 1e-9},
		{"one degree latitude", 0, 0, 1, 0, 111194.93, 0.01},
		{"one degree longitude at equator", 0, 0, 0, 1, 111194.93, 0.01},
		{"new york to london", 40.7128, -74.0060, 51.5074, -0.1278, 5570222, 5000},
		{"across antimeridian", 0, 179.9, 0, -179.9, 22238.99, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.tolerance)
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := DistanceMeters(40.0, -74.0, 40.0015, -73.9987)
	b := DistanceMeters(40.0015, -73.9987, 40.0, -74.0)
	assert.Equal(t, a, b)
}

func TestBoundingBox_ContainsCircle(t *testing.T) {
	centers := [][2]float64{
		{40, -74},
		{0, 0},
		{-33.87, 151.21},
		{70, 20},
		{0.5, 179.999},
	}
	radii := []float64{50, 200, 1500, 25000}

	for _, c := range centers {
		for _, r := range radii {
			box := BoundingBox(c[0], c[1], r)
			for i := 0; i < 72; i++ {
				bearing := 2 * math.Pi * float64(i) / 72
				lat, lon := destination(c[0], c[1], r, bearing)
				if !box.Contains(lat, lon) {
					t.Errorf("box around (%v,%v) r=%v excludes boundary point (%v,%v)", c[0], c[1], r, lat, lon)
				}
			}
		}
	}
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	box := BoundingBox(0, 179.999, 1000)
	assert.True(t, box.Wraps())
	assert.True(t, box.Contains(0, -179.999))
	assert.True(t, box.Contains(0, 179.999))
	assert.False(t, box.Contains(0, 0))
}

func TestBoundingBox_Pole(t *testing.T) {
	box := BoundingBox(89.999, 10, 500)
	assert.True(t, box.FullLon())
	assert.Equal(t, 90.0, box.MaxLat)
	assert.True(t, box.Contains(89.9995, -170))
}

func TestBoundingBox_HugeRadius(t *testing.T) {
	box := BoundingBox(10, 10, 3*EarthRadiusMeters*math.Pi)
	assert.True(t, box.FullLon())
	assert.Equal(t, -90.0, box.MinLat)
}

func TestValidLatLon(t *testing.T) {
	assert.True(t, ValidLatLon(90, 180))
	assert.False(t, ValidLatLon(91, 0))
	assert.False(t, ValidLatLon(0, -181))
	assert.False(t, ValidLatLon(math.NaN(), 0))
	assert.False(t, ValidLatLon(0, math.Inf(1)))
}

func TestCoords3857From4326(t *testing.T) {
	point, err := Coords3857From4326(-74.0, 40.0)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, -8237642.32, coords.XY.X, 1.0)
	assert.InDelta(t, 4865942.28, coords.XY.Y, 1.0)
}

func TestCoords3857From4326_Invalid(t *testing.T) {
	_, err := Coords3857From4326(0, 95)
	if !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("expected ErrInvalidCoordinates, got %v", err)
	}
}

// destination walks distance meters from lat/lon along bearing (radians).
func destination(lat, lon, distance, bearing float64) (float64, float64) {
	delta := distance / EarthRadiusMeters
	phi1 := radians(lat)
	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(bearing))
	lambda2 := radians(lon) + math.Atan2(
		math.Sin(bearing)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	return degrees(phi2), normalizeLon(degrees(lambda2))
}
