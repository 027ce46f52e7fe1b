package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/blood-connect/internal/models"
)

// Filter narrows a radius query to eligible donors. An empty BloodGroup
// matches any group.
type Filter struct {
	BloodGroup    models.BloodGroup
	OnlyAvailable bool
}

func (f Filter) matches(d models.Donor) bool {
	if f.BloodGroup != "" && d.BloodGroup != f.BloodGroup {
		return false
	}
	if f.OnlyAvailable && !d.Available {
		return false
	}
	return true
}

// DonorIndex is the minimal spatial interface required by the matcher and
// handlers.
type DonorIndex interface {
	Nearby(ctx context.Context, lat, lon, radiusMeters float64, f Filter) ([]models.Donor, error)
	Upsert(ctx context.Context, d models.Donor) error
}

// Index is an in-memory DonorIndex backed by a linear haversine scan.
// Suitable for single-process deployments and tests; production setups point
// at RedisGeo instead.
type Index struct {
	mu     sync.RWMutex
	donors map[string]models.Donor
}

func NewIndex() *Index {
	return &Index{donors: make(map[string]models.Donor)}
}

func (g *Index) Upsert(ctx context.Context, d models.Donor) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d.Updated = time.Now()
	g.donors[d.ID] = d
	return nil
}

// Nearby scans every located donor and keeps those within radiusMeters that
// pass the filter. Donors without coordinates are skipped, not errors.
func (g *Index) Nearby(ctx context.Context, lat, lon, radiusMeters float64, f Filter) ([]models.Donor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Donor, 0)
	for _, d := range g.donors {
		loc, ok := d.Target()
		if !ok {
			continue
		}
		if !f.matches(d) {
			continue
		}
		if Haversine(lat, lon, loc.Lat, loc.Lon) <= radiusMeters {
			out = append(out, d)
		}
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
