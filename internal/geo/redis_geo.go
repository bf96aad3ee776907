package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/models"
)

// RedisResolver implements Resolver and Updater using Redis GEO commands.
// Position lives in one sorted set, vehicle type and online flag in a
// per-driver metadata hash.
type RedisResolver struct {
	client  *redis.Client
	key     string
	radiusM float64
}

func NewRedisResolver(client *redis.Client, key string, radiusM float64) *RedisResolver {
	return &RedisResolver{client: client, key: key, radiusM: radiusM}
}

func (r *RedisResolver) Upsert(ctx context.Context, d models.Driver) error {
	name := strconv.FormatInt(d.ID, 10)
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: name}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"vehicle": d.VehicleType,
		"online":  strconv.FormatBool(d.Online),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisResolver) Nearby(ctx context.Context, origin models.Coord, vehicleType string, limit int) ([]int64, error) {
	// over-fetch: the vehicle filter happens against the meta hash
	count := limit * 4
	if count < limit {
		count = limit
	}
	res, err := r.client.GeoRadius(ctx, r.key, origin.Lon, origin.Lat, &redis.GeoRadiusQuery{
		Radius: r.radiusM, Unit: "m", Count: count, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, limit)
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		m, err := r.client.HGetAll(ctx, metaKey(id)).Result()
		if err != nil {
			continue
		}
		if m["online"] != "true" {
			continue
		}
		if vehicleType != "" && m["vehicle"] != vehicleType {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func metaKey(id int64) string { return "driver:meta:" + strconv.FormatInt(id, 10) }
