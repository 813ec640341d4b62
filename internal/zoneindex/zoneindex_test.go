package zoneindex

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/geoflags/territory/internal/geo"
	"github.com/geoflags/territory/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagAt(id string, lat, lon, radius float64) core.Flag {
	return core.Flag{ID: id, Lat: lat, Lon: lon, Radius: radius, Level: 1, HP: 100, MaxHP: 100, Status: core.StatusActive}
}

func ids(flags []core.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.ID
	}
	return out
}

func TestQuery_InclusiveBoundary(t *testing.T) {
	ix := New(DefaultCellDegrees)

	qLat, qLon := 40.0, -74.0
	fLat, fLon := 40.0015, -73.9987
	d := geo.DistanceMeters(qLat, qLon, fLat, fLon)

	ix.Upsert(flagAt("edge", fLat, fLon, d))
	assert.Equal(t, []string{"edge"}, ids(ix.Query(qLat, qLon, 0)), "distance == radius is inside")

	ix.Upsert(flagAt("edge", fLat, fLon, d-0.001))
	assert.Empty(t, ix.Query(qLat, qLon, 0), "distance == radius + epsilon is outside")
}

func TestQuery_TouchingQueryCircle(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("a", 40.0, -74.0, 200))

	d := geo.DistanceMeters(40.0, -74.0, 40.0, -73.99)
	assert.Len(t, ix.Query(40.0, -73.99, d-199.999), 1)
	assert.Empty(t, ix.Query(40.0, -73.99, d-200.001))
}

func TestQuery_SortedByDistanceThenID(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("far", 40.003, -74.0, 500))
	ix.Upsert(flagAt("b", 40.001, -74.0, 500))
	ix.Upsert(flagAt("a", 40.001, -74.0, 500))

	assert.Equal(t, []string{"a", "b", "far"}, ids(ix.Query(40.0, -74.0, 0)))
}

func TestUpsert_MovesBetweenCells(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("f", 40.0, -74.0, 100))
	ix.Upsert(flagAt("f", 41.0, -75.0, 100))

	assert.Empty(t, ix.Query(40.0, -74.0, 0))
	assert.Len(t, ix.Query(41.0, -75.0, 0), 1)
	assert.Equal(t, 1, ix.Len())
}

func TestUpsert_StoresSnapshot(t *testing.T) {
	ix := New(DefaultCellDegrees)
	f := flagAt("f", 40.0, -74.0, 100)
	ix.Upsert(f)
	f.HP = 1

	got, ok := ix.Get("f")
	require.True(t, ok)
	assert.Equal(t, 100, got.HP)
}

func TestRemove(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("f", 40.0, -74.0, 100))
	ix.Remove("f")
	ix.Remove("missing")

	assert.Empty(t, ix.Query(40.0, -74.0, 1000))
	_, ok := ix.Get("f")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Len())
}

func TestQuery_Antimeridian(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("east", 0, 179.9995, 150))
	ix.Upsert(flagAt("other", 0, 0, 150))

	assert.Equal(t, []string{"east"}, ids(ix.Query(0, -179.9995, 0)))
}

func TestNearby_IgnoresZoneRadius(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("big", 40.0, -74.0, 5000))

	d := geo.DistanceMeters(40.0, -73.99, 40.0, -74.0)
	assert.Empty(t, ix.Nearby(40.0, -73.99, d-1))
	hits := ix.Nearby(40.0, -73.99, d)
	require.Len(t, hits, 1)
	assert.Equal(t, d, hits[0].Distance)
}

func TestByOwnerAndIDs(t *testing.T) {
	ix := New(DefaultCellDegrees)
	a := flagAt("a", 1, 1, 100)
	a.OwnerID = "p1"
	b := flagAt("b", 2, 2, 100)
	b.OwnerID = "p2"
	c := flagAt("c", 3, 3, 100)
	c.OwnerID = "p1"
	ix.Upsert(c)
	ix.Upsert(b)
	ix.Upsert(a)

	assert.Equal(t, []string{"a", "c"}, ids(ix.ByOwner("p1")))
	assert.Equal(t, []string{"a", "b", "c"}, ix.IDs())
}

func TestQuery_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix := New(0.01)
	var all []core.Flag
	for i := 0; i < 400; i++ {
		f := flagAt(fmt.Sprintf("f%03d", i), 40+rng.Float64()*0.2, -74+rng.Float64()*0.2, 100+rng.Float64()*500)
		all = append(all, f)
		ix.Upsert(f)
	}

	for q := 0; q < 50; q++ {
		lat, lon := 40+rng.Float64()*0.2, -74+rng.Float64()*0.2
		r := rng.Float64() * 800

		var want []string
		for _, f := range all {
			if geo.DistanceMeters(lat, lon, f.Lat, f.Lon) <= r+f.Radius {
				want = append(want, f.ID)
			}
		}
		got := ids(ix.Query(lat, lon, r))
		assert.ElementsMatch(t, want, got)
	}
}

func TestConcurrentUpsertNeverDuplicates(t *testing.T) {
	ix := New(DefaultCellDegrees)
	ix.Upsert(flagAt("mover", 40.0, -74.0, 300))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			lat := 40.0
			if i%2 == 0 {
				lat = 40.001
			}
			ix.Upsert(flagAt("mover", lat, -74.0, 300))
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
			got := ix.Query(40.0005, -74.0, 1000)
			if len(got) > 1 {
				t.Fatalf("flag observed %d times", len(got))
			}
		}
	}
}

func TestCovers_AgreesWithQuery(t *testing.T) {
	f := flagAt("f", 40.0, -74.0, 200)
	d := geo.DistanceMeters(40.0, -74.0, 40.0015, -74.0)

	f.Radius = d
	ok, got := Covers(&f, 40.0015, -74.0)
	assert.True(t, ok)
	assert.Equal(t, d, got)

	f.Radius = d - 0.001
	ok, _ = Covers(&f, 40.0015, -74.0)
	assert.False(t, ok)
}
