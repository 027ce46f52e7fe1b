package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/example/blood-connect/internal/geo"
	"github.com/example/blood-connect/internal/models"
)

type fakeIndex struct {
	donors  []models.Donor
	err     error
	calls   int
	lastF   geo.Filter
	lastLat float64
	lastLon float64
}

func (f *fakeIndex) Nearby(ctx context.Context, lat, lon, radiusMeters float64, flt geo.Filter) ([]models.Donor, error) {
	f.calls++
	f.lastLat, f.lastLon, f.lastF = lat, lon, flt
	return f.donors, f.err
}

func (f *fakeIndex) Upsert(ctx context.Context, d models.Donor) error { return nil }

func locatedRequest(bg models.BloodGroup) *models.Request {
	return &models.Request{
		ID:         "req1",
		BloodGroup: bg,
		Location:   &models.GeoTarget{Lat: 12.9716, Lon: 77.5946},
		Status:     models.StatusActive,
	}
}

func TestMatchPassesExactFilters(t *testing.T) {
	f := &fakeIndex{donors: []models.Donor{{ID: "d1"}}}
	s := &Service{Index: f, RadiusMeters: 10000}
	res := s.Match(context.Background(), locatedRequest(models.ONeg))
	if f.calls != 1 {
		t.Fatalf("expected one index query, got %d", f.calls)
	}
	if f.lastF.BloodGroup != models.ONeg || !f.lastF.OnlyAvailable {
		t.Fatalf("wrong filter: %+v", f.lastF)
	}
	if f.lastLat != 12.9716 || f.lastLon != 77.5946 {
		t.Fatalf("wrong query point: %f,%f", f.lastLat, f.lastLon)
	}
	if len(res.Donors) != 1 || res.Donors[0].ID != "d1" {
		t.Fatalf("expected d1, got %+v", res.Donors)
	}
}

func TestMatchSkipsUnlocatedRequest(t *testing.T) {
	f := &fakeIndex{donors: []models.Donor{{ID: "d1"}}}
	s := &Service{Index: f, RadiusMeters: 10000}
	req := &models.Request{ID: "req2", BloodGroup: models.APos}
	res := s.Match(context.Background(), req)
	if f.calls != 0 {
		t.Fatalf("unlocated request must not query the index")
	}
	if !res.Empty() {
		t.Fatalf("expected empty result, got %+v", res.Donors)
	}
}

func TestMatchSwallowsQueryErrors(t *testing.T) {
	f := &fakeIndex{err: errors.New("index down")}
	s := &Service{Index: f, RadiusMeters: 10000}
	res := s.Match(context.Background(), locatedRequest(models.BNeg))
	if !res.Empty() {
		t.Fatalf("query error must collapse to zero matches, got %+v", res.Donors)
	}
}

// Scenario: O- request at (12.9716, 77.5946), 10km radius. Only the nearby
// available O- donor matches.
func TestMatchScenario(t *testing.T) {
	idx := geo.NewIndex()
	ctx := context.Background()
	center := models.GeoTarget{Lat: 12.9716, Lon: 77.5946}
	// latitude offsets: 0.0045deg ~ 0.5km, 0.045 ~ 5km, 0.135 ~ 15km, 0.009 ~ 1km
	donors := []models.Donor{
		{ID: "D1", BloodGroup: models.ONeg, Available: true, Location: &models.GeoTarget{Lat: center.Lat + 0.0045, Lon: center.Lon}},
		{ID: "D2", BloodGroup: models.ONeg, Available: false, Location: &models.GeoTarget{Lat: center.Lat + 0.045, Lon: center.Lon}},
		{ID: "D3", BloodGroup: models.ONeg, Available: true, Location: &models.GeoTarget{Lat: center.Lat + 0.135, Lon: center.Lon}},
		{ID: "D4", BloodGroup: models.APos, Available: true, Location: &models.GeoTarget{Lat: center.Lat + 0.009, Lon: center.Lon}},
	}
	for _, d := range donors {
		if err := idx.Upsert(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}

	s := &Service{Index: idx, RadiusMeters: 10000}
	req := locatedRequest(models.ONeg)
	req.Location = &center
	res := s.Match(ctx, req)
	if len(res.Donors) != 1 || res.Donors[0].ID != "D1" {
		got := make([]string, 0, len(res.Donors))
		for _, d := range res.Donors {
			got = append(got, d.ID)
		}
		t.Fatalf("expected exactly D1, got %v", got)
	}
}
