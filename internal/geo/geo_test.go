package geo

import (
	"context"
	"math"
	"testing"

	"github.com/example/blood-connect/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km
	d := Haversine(12.0, 77.0, 13.0, 77.0)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

const (
	centerLat = 12.9716
	centerLon = 77.5946
	radius    = 10000.0
)

func donorAt(id string, latOffset float64, bg models.BloodGroup, available bool) models.Donor {
	return models.Donor{
		ID:         id,
		Email:      id + "@example.com",
		BloodGroup: bg,
		Available:  available,
		Location:   &models.GeoTarget{Lat: centerLat + latOffset, Lon: centerLon},
	}
}

func TestNearbyRadiusBoundary(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	// 0.0896 deg of latitude is ~9963m, 0.0902 is ~10030m
	inside := donorAt("inside", 0.0896, models.ONeg, true)
	outside := donorAt("outside", 0.0902, models.ONeg, true)
	_ = idx.Upsert(ctx, inside)
	_ = idx.Upsert(ctx, outside)

	got, err := idx.Nearby(ctx, centerLat, centerLon, radius, Filter{BloodGroup: models.ONeg, OnlyAvailable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "inside" {
		t.Fatalf("expected only the inside donor, got %v", ids(got))
	}
}

func TestNearbyFilters(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	_ = idx.Upsert(ctx, donorAt("match", 0.001, models.APos, true))
	_ = idx.Upsert(ctx, donorAt("wrong-group", 0.001, models.ONeg, true))
	_ = idx.Upsert(ctx, donorAt("unavailable", 0.001, models.APos, false))

	got, err := idx.Nearby(ctx, centerLat, centerLon, radius, Filter{BloodGroup: models.APos, OnlyAvailable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "match" {
		t.Fatalf("expected only the exact-group available donor, got %v", ids(got))
	}
}

func TestNearbySkipsUnlocatedDonors(t *testing.T) {
	idx := NewIndex()
	ctx := context.Background()
	unlocated := models.Donor{ID: "nowhere", BloodGroup: models.BPos, Available: true}
	_ = idx.Upsert(ctx, unlocated)

	got, err := idx.Nearby(ctx, centerLat, centerLon, radius, Filter{BloodGroup: models.BPos, OnlyAvailable: true})
	if err != nil {
		t.Fatalf("unlocated donor must not cause an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unlocated donor must be invisible, got %v", ids(got))
	}
}

func ids(ds []models.Donor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}
