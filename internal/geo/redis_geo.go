package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/hitchr-matching/internal/models"
)

// RedisLocations implements Locations using a Redis GEO set for positions and
// a hash per user for the report timestamp.
type RedisLocations struct {
	client *redis.Client
	key    string
}

func NewRedisLocations(addr, password, key string) *RedisLocations {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisLocations{client: c, key: key}
}

func (r *RedisLocations) Upsert(ctx context.Context, p models.LocationPing) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.UserID})
	pipe.HSet(ctx, MetaKey(p.UserID), map[string]interface{}{"ts": FormatTimestamp(p.Timestamp)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert location %s: %w", p.UserID, err)
	}
	return nil
}

func (r *RedisLocations) Last(ctx context.Context, userID string) (models.LocationPing, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, userID).Result()
	if err != nil {
		return models.LocationPing{}, false, fmt.Errorf("redis geopos %s: %w", userID, err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.LocationPing{}, false, nil
	}
	p := models.LocationPing{UserID: userID, Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	ts, err := r.client.HGet(ctx, MetaKey(userID), "ts").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.LocationPing{}, false, fmt.Errorf("redis location meta %s: %w", userID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		p.Timestamp = t
	}
	return p, true, nil
}

func (r *RedisLocations) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisLocations) Close() error { return r.client.Close() }

// MetaKey is the hash holding per-user location metadata.
func MetaKey(userID string) string { return "user:loc:" + userID }

// FormatTimestamp renders a ping time the way it is stored in the meta hash.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
