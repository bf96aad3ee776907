package geo

import (
	"context"
	"testing"

	"github.com/example/courier-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// roughly one degree of latitude, ~111km
	d := Haversine(0, 0, 1, 0)
	if d < 110000 || d > 112000 {
		t.Fatalf("expected ~111km, got %f", d)
	}
}

func TestIndexNearbyFiltersAndSorts(t *testing.T) {
	idx := NewIndex(50000)
	ctx := context.Background()

	upsert := func(id int64, lat, lon float64, vehicle string, online bool) {
		t.Helper()
		if err := idx.Upsert(ctx, models.Driver{ID: id, Loc: models.Coord{Lat: lat, Lon: lon}, VehicleType: vehicle, Online: online}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	upsert(1, 0.01, 0, "bike", true)  // closer
	upsert(2, 0.05, 0, "bike", true)  // farther
	upsert(3, 0.01, 0, "bike", false) // offline
	upsert(4, 0.01, 0, "van", true)   // wrong vehicle
	upsert(5, 5, 5, "bike", true)     // outside radius

	got, err := idx.Nearby(ctx, models.Coord{}, "bike", 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestIndexNearbyHonorsLimit(t *testing.T) {
	idx := NewIndex(0)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := idx.Upsert(ctx, models.Driver{ID: i, Loc: models.Coord{Lat: float64(i) * 0.01}, Online: true}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := idx.Nearby(ctx, models.Coord{}, "", 3)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestAreaLabelRedactsPrecision(t *testing.T) {
	a := AreaLabel(models.Coord{Lat: 43.2412345, Lon: 76.9198765})
	if a != "area 43.24N 76.91E" {
		t.Fatalf("unexpected label: %q", a)
	}
	b := AreaLabel(models.Coord{Lat: 43.2498, Lon: 76.9101})
	if a != b {
		t.Fatalf("nearby points must share a cell: %q vs %q", a, b)
	}
	s := AreaLabel(models.Coord{Lat: -1.5, Lon: -36.5})
	if s != "area 1.50S 36.50W" {
		t.Fatalf("unexpected southern label: %q", s)
	}
}
