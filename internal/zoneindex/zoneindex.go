// Package zoneindex keeps an in-memory spatial index of flag zones.
// Flags are bucketed by their center into fixed-size degree cells; queries
// walk only the cells overlapping the bounding box of the query radius
// widened by the largest indexed zone radius.
package zoneindex

import (
	"math"
	"sort"
	"sync"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/pkg/core"
)

// DefaultCellDegrees matches the tile granularity used for map loading.
const DefaultCellDegrees = 0.02

// Hit is an indexed flag together with its center distance from a query point.
type Hit struct {
	Flag     core.Flag
	Distance float64
}

type cellKey struct {
	x, y int
}

// Index is safe for concurrent use. Writers swap a flag's snapshot and cell
// membership under one lock, so a reader never sees a flag in two places.
type Index struct {
	mu        sync.RWMutex
	cellDeg   float64
	cells     map[cellKey]map[string]struct{}
	flags     map[string]*core.Flag
	where     map[string]cellKey
	maxRadius float64
}

// New creates an index with the given cell size in degrees.
func New(cellDegrees float64) *Index {
	if cellDegrees <= 0 {
		cellDegrees = DefaultCellDegrees
	}
	return &Index{
		cellDeg: cellDegrees,
		cells:   make(map[cellKey]map[string]struct{}),
		flags:   make(map[string]*core.Flag),
		where:   make(map[string]cellKey),
	}
}

func (ix *Index) keyFor(lat, lon float64) cellKey {
	return cellKey{
		x: int(math.Floor((lon + 180) / ix.cellDeg)),
		y: int(math.Floor((lat + 90) / ix.cellDeg)),
	}
}

// Upsert stores a snapshot of f, moving it between cells if its center changed.
func (ix *Index) Upsert(f core.Flag) {
	snap := f.Clone()
	key := ix.keyFor(f.Lat, f.Lon)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.where[f.ID]; ok && old != key {
		ix.removeFromCell(old, f.ID)
	}
	bucket, ok := ix.cells[key]
	if !ok {
		bucket = make(map[string]struct{})
		ix.cells[key] = bucket
	}
	bucket[f.ID] = struct{}{}
	ix.where[f.ID] = key
	ix.flags[f.ID] = snap

	// never shrinks; an oversized search margin only costs extra cells
	if f.Radius > ix.maxRadius {
		ix.maxRadius = f.Radius
	}
}

// Remove drops a flag from the index. Removing an unknown id is a no-op.
func (ix *Index) Remove(flagID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key, ok := ix.where[flagID]
	if !ok {
		return
	}
	ix.removeFromCell(key, flagID)
	delete(ix.where, flagID)
	delete(ix.flags, flagID)
}

func (ix *Index) removeFromCell(key cellKey, flagID string) {
	bucket := ix.cells[key]
	delete(bucket, flagID)
	if len(bucket) == 0 {
		delete(ix.cells, key)
	}
}

// Get returns a copy of the indexed flag.
func (ix *Index) Get(flagID string) (core.Flag, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	f, ok := ix.flags[flagID]
	if !ok {
		return core.Flag{}, false
	}
	return *f.Clone(), true
}

// Len returns the number of indexed flags.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.flags)
}

// IDs returns every indexed flag id in sorted order.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	ids := make([]string, 0, len(ix.flags))
	for id := range ix.flags {
		ids = append(ids, id)
	}
	ix.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ByOwner returns copies of every flag owned by ownerID, sorted by id.
func (ix *Index) ByOwner(ownerID string) []core.Flag {
	ix.mu.RLock()
	var out []core.Flag
	for _, f := range ix.flags {
		if f.OwnerID == ownerID {
			out = append(out, *f.Clone())
		}
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query returns every flag whose zone reaches the query circle:
// distance(center, point) <= radiusMeters + flag.Radius. The boundary is
// inclusive. Results are ordered by distance, then id.
func (ix *Index) Query(lat, lon, radiusMeters float64) []core.Flag {
	hits := ix.Search(lat, lon, radiusMeters)
	out := make([]core.Flag, len(hits))
	for i, h := range hits {
		out[i] = h.Flag
	}
	return out
}

// Search is Query with the center distance of every match.
func (ix *Index) Search(lat, lon, radiusMeters float64) []Hit {
	if radiusMeters < 0 {
		radiusMeters = 0
	}
	return ix.collect(lat, lon, radiusMeters, true, func(d float64, f *core.Flag) bool {
		return reaches(d, radiusMeters, f)
	})
}

func reaches(d, radiusMeters float64, f *core.Flag) bool {
	return d <= radiusMeters+f.Radius
}

// Covers reports whether the point lies inside f's zone, using the same
// inclusive test as Query with a zero radius, and returns the center distance.
func Covers(f *core.Flag, lat, lon float64) (bool, float64) {
	d := geo.DistanceMeters(lat, lon, f.Lat, f.Lon)
	return reaches(d, 0, f), d
}

// Nearby returns flags whose center lies within radiusMeters of the point,
// ignoring zone radii. Used for spacing checks and "flags near me" listings.
func (ix *Index) Nearby(lat, lon, radiusMeters float64) []Hit {
	if radiusMeters < 0 {
		radiusMeters = 0
	}
	return ix.collect(lat, lon, radiusMeters, false, func(d float64, _ *core.Flag) bool {
		return d <= radiusMeters
	})
}

func (ix *Index) collect(lat, lon, radiusMeters float64, widen bool, keep func(float64, *core.Flag) bool) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	reach := radiusMeters
	if widen {
		reach += ix.maxRadius
	}
	box := geo.BoundingBox(lat, lon, reach)

	var hits []Hit
	consider := func(f *core.Flag) {
		if !box.Contains(f.Lat, f.Lon) {
			return
		}
		d := geo.DistanceMeters(lat, lon, f.Lat, f.Lon)
		if keep(d, f) {
			hits = append(hits, Hit{Flag: *f.Clone(), Distance: d})
		}
	}

	if ix.scanAll(box) {
		for _, f := range ix.flags {
			consider(f)
		}
	} else {
		for _, span := range lonSpans(box) {
			lo := ix.keyFor(box.MinLat, span[0])
			hi := ix.keyFor(box.MaxLat, span[1])
			for x := lo.x; x <= hi.x; x++ {
				for y := lo.y; y <= hi.y; y++ {
					for id := range ix.cells[cellKey{x: x, y: y}] {
						consider(ix.flags[id])
					}
				}
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Flag.ID < hits[j].Flag.ID
	})
	return hits
}

// scanAll decides whether walking cells would touch more buckets than a
// plain scan over every flag.
func (ix *Index) scanAll(box geo.BBox) bool {
	if box.FullLon() {
		return true
	}
	lonSpan := box.MaxLon - box.MinLon
	if box.Wraps() {
		lonSpan += 360
	}
	cellsX := lonSpan/ix.cellDeg + 1
	cellsY := (box.MaxLat-box.MinLat)/ix.cellDeg + 1
	return cellsX*cellsY > float64(len(ix.cells))
}

func lonSpans(box geo.BBox) [][2]float64 {
	if box.Wraps() {
		return [][2]float64{{box.MinLon, 180}, {-180, box.MaxLon}}
	}
	return [][2]float64{{box.MinLon, box.MaxLon}}
}
