package geo

import (
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

// HexCell addresses a flat-top hexagon in axial coordinates on a lattice
// laid over Web Mercator meters.
type HexCell struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// HexCellFor returns the lattice cell containing lat/lon for hexagons of
// the given size (center to corner, in projected meters).
func HexCellFor(lat, lon, size float64) (HexCell, error) {
	if size <= 0 {
		return HexCell{}, fmt.Errorf("hex size must be positive, got %v", size)
	}
	if !ValidLatLon(lat, lon) {
		return HexCell{}, ErrInvalidCoordinates
	}
	x, y := project(lon, lat)
	qf := (2.0 / 3.0) * x / size
	rf := (-1.0/3.0)*x/size + (math.Sqrt(3)/3.0)*y/size
	q, r := axialRound(qf, rf)
	return HexCell{Q: q, R: r}, nil
}

// Center returns the latitude/longitude of the hexagon center.
func (c HexCell) Center(size float64) (lat, lon float64) {
	x := size * 1.5 * float64(c.Q)
	y := size * math.Sqrt(3) * (float64(c.R) + float64(c.Q)/2)
	lon, lat = unproject(x, y)
	return lat, lon
}

// SnapToHex moves lat/lon to the center of its lattice hexagon.
func SnapToHex(lat, lon, size float64) (float64, float64, error) {
	cell, err := HexCellFor(lat, lon, size)
	if err != nil {
		return 0, 0, err
	}
	sLat, sLon := cell.Center(size)
	return sLat, sLon, nil
}

func axialRound(qf, rf float64) (int, int) {
	xf, zf := qf, rf
	yf := -xf - zf

	rx, ry, rz := math.Round(xf), math.Round(yf), math.Round(zf)
	dx, dy, dz := math.Abs(rx-xf), math.Abs(ry-yf), math.Abs(rz-zf)

	switch {
	case dx > dy && dx > dz:
		rx = -ry - rz
	case dy > dz:
		// ry is implied by rx and rz
	default:
		rz = -rx - ry
	}
	return int(rx), int(rz)
}

// ZoneOutline approximates a zone circle as a closed polygon with the given
// number of vertices, using longitude-first coordinates as GeoJSON expects.
func ZoneOutline(lat, lon, radiusMeters float64, vertices int) (geom.Polygon, error) {
	if vertices < 3 {
		return geom.Polygon{}, fmt.Errorf("outline needs at least 3 vertices, got %d", vertices)
	}
	if !ValidLatLon(lat, lon) {
		return geom.Polygon{}, ErrInvalidCoordinates
	}

	delta := radiusMeters / EarthRadiusMeters
	phi1 := radians(lat)
	lambda1 := radians(lon)

	flat := make([]float64, 0, (vertices+1)*2)
	for i := 0; i < vertices; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(vertices)
		phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(bearing))
		lambda2 := lambda1 + math.Atan2(
			math.Sin(bearing)*math.Sin(delta)*math.Cos(phi1),
			math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
		)
		flat = append(flat, normalizeLon(degrees(lambda2)), degrees(phi2))
	}
	// close the ring
	flat = append(flat, flat[0], flat[1])

	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring}), nil
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
