package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// EarthRadiusMeters is the mean sphere radius used for great-circle math.
const EarthRadiusMeters = 6371000.0

// bboxSlack widens every bounding box so floating point rounding can never
// exclude a point sitting exactly on a zone boundary.
const bboxSlack = 1e-9

// ErrInvalidCoordinates is returned when a latitude/longitude is out of range or not finite.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidLatLon reports whether lat/lon are finite WGS84 degrees.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// BBox is a latitude/longitude rectangle. When MinLon > MaxLon the box
// wraps across the antimeridian.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Wraps reports whether the box crosses the antimeridian.
func (b BBox) Wraps() bool {
	return b.MinLon > b.MaxLon
}

// FullLon reports whether the box spans every longitude.
func (b BBox) FullLon() bool {
	return b.MinLon <= -180 && b.MaxLon >= 180
}

// Contains reports whether lat/lon falls inside the box.
func (b BBox) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return lon >= b.MinLon || lon <= b.MaxLon
	}
	return lon >= b.MinLon && lon <= b.MaxLon
}

// BoundingBox returns a rectangle guaranteed to contain every point within
// radiusMeters of lat/lon. Near the poles, or for radii reaching around the
// globe, it degrades to the full longitude range.
func BoundingBox(lat, lon, radiusMeters float64) BBox {
	if radiusMeters < 0 {
		radiusMeters = 0
	}
	delta := radiusMeters / EarthRadiusMeters // angular radius
	if delta >= math.Pi {
		return BBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	}

	dLat := degrees(delta)*(1+bboxSlack) + bboxSlack
	box := BBox{MinLat: lat - dLat, MaxLat: lat + dLat}

	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	// Widest longitude offset of a spherical cap is reached at its tangent
	// meridian: sin(dLon) = sin(delta) / cos(lat).
	ratio := math.Sin(delta) / math.Cos(radians(lat))
	if ratio >= 1 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}
	dLon := degrees(math.Asin(ratio))*(1+bboxSlack) + bboxSlack
	if dLon >= 180 {
		box.MinLon, box.MaxLon = -180, 180
		return box
	}

	box.MinLon = lon - dLon
	box.MaxLon = lon + dLon
	if box.MinLon < -180 {
		box.MinLon += 360
	}
	if box.MaxLon > 180 {
		box.MaxLon -= 360
	}
	return box
}

// Coords3857From4326 projects a WGS84 longitude/latitude to a Web Mercator point.
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if !ValidLatLon(latitude, longitude) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	x, y := project(longitude, latitude)
	point = geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Type: geom.DimXY,
		},
	)
	return point, nil
}

func project(lon, lat float64) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(lon, lat, 0)
	return x, y
}

func unproject(x, y float64) (lon, lat float64) {
	f := wgs84.EPSG().Transform(3857, 4326)
	lon, lat, _ = f(x, y, 0)
	return lon, lat
}
