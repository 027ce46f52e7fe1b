package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/blood-connect/internal/models"
)

// RedisGeo implements DonorIndex using Redis GEO commands. The geo set holds
// one member per located donor; a metadata hash per donor carries the fields
// needed for the equality/boolean filters and for composing notifications.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

// NewRedisGeoWithClient is used where the caller owns the client lifecycle.
func NewRedisGeoWithClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Donor) error {
	if loc, ok := d.Target(); ok {
		if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: d.ID}).Result(); err != nil {
			return err
		}
	}
	// a donor without coordinates still gets metadata, but stays unreachable
	// from radius queries
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"name":        d.Name,
		"email":       d.Email,
		"blood_group": string(d.BloodGroup),
		"available":   strconv.FormatBool(d.Available),
		"updated":     time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lon, radiusMeters float64, f Filter) ([]models.Donor, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Donor, 0, len(res))
	for _, g := range res {
		d := models.Donor{ID: g.Name, Location: &models.GeoTarget{Lat: g.Latitude, Lon: g.Longitude}}
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			return nil, err
		}
		d.Name = m["name"]
		d.Email = m["email"]
		d.BloodGroup = models.BloodGroup(m["blood_group"])
		d.Available = m["available"] == "true"
		if !f.matches(d) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func metaKey(id string) string { return "donor:meta:" + id }
