package remote

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/redis/go-redis/v9"
)

// Store is the remote daily-activity document store shared by all of a
// user's devices. Writes are increments, never overwrites, so concurrent
// writers cannot clobber each other's contributions. ResetDaily is the one
// documented exception (user-initiated overwrite to zero).
type Store interface {
	IncrementDaily(ctx context.Context, userID, date string, d activity.Delta) error
	GetDaily(ctx context.Context, userID, date string) (activity.DailyRecord, bool, error)
	ResetDaily(ctx context.Context, userID, date string) error
}

// Redis implements Store on a hash per (user, date) plus a route-point list.
// HINCRBY/HINCRBYFLOAT give the required server-side atomic add; route
// points are appended, and duplicates are harmless since points carry
// unique timestamps.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func dailyKey(userID, date string) string {
	return "daily:" + userID + ":" + date
}

func routeKey(userID, date string) string {
	return dailyKey(userID, date) + ":route"
}

func (r *Redis) IncrementDaily(ctx context.Context, userID, date string, d activity.Delta) error {
	key := dailyKey(userID, date)

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "steps", d.Steps)
	pipe.HIncrByFloat(ctx, key, "distance_km", d.DistanceKm)
	pipe.HIncrByFloat(ctx, key, "calories_kcal", d.CaloriesKcal)
	pipe.HIncrByFloat(ctx, key, "altitude_gain_m", d.AltitudeGainM)
	pipe.HSet(ctx, key, "updated_at_ms", time.Now().UnixMilli())
	for _, p := range d.RoutePoints {
		encoded, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.RPush(ctx, routeKey(userID, date), encoded)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) GetDaily(ctx context.Context, userID, date string) (activity.DailyRecord, bool, error) {
	fields, err := r.client.HGetAll(ctx, dailyKey(userID, date)).Result()
	if err != nil {
		return activity.DailyRecord{}, false, err
	}
	if len(fields) == 0 {
		return activity.DailyRecord{}, false, nil
	}

	rec := activity.DailyRecord{UserID: userID, Date: date, IsSynced: true}
	rec.Steps, _ = strconv.ParseInt(fields["steps"], 10, 64)
	rec.DistanceKm, _ = strconv.ParseFloat(fields["distance_km"], 64)
	rec.CaloriesKcal, _ = strconv.ParseFloat(fields["calories_kcal"], 64)
	rec.AltitudeGainM, _ = strconv.ParseFloat(fields["altitude_gain_m"], 64)
	if ms, err := strconv.ParseInt(fields["updated_at_ms"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms)
	}

	raw, err := r.client.LRange(ctx, routeKey(userID, date), 0, -1).Result()
	if err != nil {
		return activity.DailyRecord{}, false, err
	}
	for _, item := range raw {
		var p activity.RoutePoint
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			continue
		}
		rec.RoutePoints = append(rec.RoutePoints, p)
	}
	return rec, true, nil
}

// ResetDaily zeroes the day in place. Fields are overwritten rather than the
// whole key deleted so concurrent readers still see a document.
func (r *Redis) ResetDaily(ctx context.Context, userID, date string) error {
	key := dailyKey(userID, date)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"steps", 0,
		"distance_km", 0,
		"calories_kcal", 0,
		"altitude_gain_m", 0,
		"updated_at_ms", time.Now().UnixMilli(),
	)
	pipe.Del(ctx, routeKey(userID, date))
	_, err := pipe.Exec(ctx)
	return err
}
