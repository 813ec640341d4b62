// Package terrain answers whether a point may hold a flag.
package terrain

import (
	"context"

	"github.com/geoflags/territory/internal/geo"
	"github.com/peterstace/simplefeatures/geom"
)

// Checker decides placeability. Water, restricted areas and the like are the
// checker's business; the engine only asks.
type Checker interface {
	IsPlaceable(ctx context.Context, lat, lon float64) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, lat, lon float64) (bool, error)

func (f CheckerFunc) IsPlaceable(ctx context.Context, lat, lon float64) (bool, error) {
	return f(ctx, lat, lon)
}

// AlwaysPlaceable accepts every valid coordinate.
var AlwaysPlaceable = CheckerFunc(func(context.Context, float64, float64) (bool, error) {
	return true, nil
})

// Exclusion rejects points inside any of a set of polygons given in WGS84
// (x = longitude, y = latitude).
type Exclusion struct {
	areas []geom.Geometry
}

// NewExclusion parses WKT polygons into an exclusion checker.
func NewExclusion(wkts ...string) (*Exclusion, error) {
	e := &Exclusion{}
	for _, w := range wkts {
		g, err := geom.UnmarshalWKT(w)
		if err != nil {
			return nil, err
		}
		e.areas = append(e.areas, g)
	}
	return e, nil
}

func (e *Exclusion) IsPlaceable(ctx context.Context, lat, lon float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !geo.ValidLatLon(lat, lon) {
		return false, geo.ErrInvalidCoordinates
	}
	pt := geom.XY{X: lon, Y: lat}.AsPoint().AsGeometry()
	for _, a := range e.areas {
		if geom.Intersects(a, pt) {
			return false, nil
		}
	}
	return true, nil
}
