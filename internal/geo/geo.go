package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// Resolver answers "which drivers could take this request". The engine
// treats it as a black box; an unreachable resolver degrades to zero
// candidates at the call site.
type Resolver interface {
	Nearby(ctx context.Context, origin models.Coord, vehicleType string, limit int) ([]int64, error)
}

// Updater accepts driver location reports.
type Updater interface {
	Upsert(ctx context.Context, d models.Driver) error
}

// Index is the in-memory Resolver used by tests and single-node runs.
type Index struct {
	mu      sync.RWMutex
	drivers map[int64]models.Driver
	radiusM float64
}

func NewIndex(radiusM float64) *Index {
	return &Index{drivers: make(map[int64]models.Driver), radiusM: radiusM}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

// naive scan; the Redis GEO resolver is the production path
func (g *Index) Nearby(_ context.Context, origin models.Coord, vehicleType string, limit int) ([]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   int64
		dist float64
	}
	arr := make([]pair, 0, len(g.drivers))
	for _, d := range g.drivers {
		if !d.Online {
			continue
		}
		if vehicleType != "" && d.VehicleType != vehicleType {
			continue
		}
		dist := Haversine(origin.Lat, origin.Lon, d.Loc.Lat, d.Loc.Lon)
		if g.radiusM > 0 && dist > g.radiusM {
			continue
		}
		arr = append(arr, pair{d.ID, dist})
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]int64, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.id)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// AreaLabel collapses exact coordinates onto a ~1km grid cell so the
// live feed never carries a precise pickup address.
func AreaLabel(c models.Coord) string {
	lat := math.Floor(c.Lat*100) / 100
	lon := math.Floor(c.Lon*100) / 100
	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("area %.2f%s %.2f%s", math.Abs(lat), ns, math.Abs(lon), ew)
}
