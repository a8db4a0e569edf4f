package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/db"
	"github.com/jackc/pgx/v5"
)

// Local is the durable per-device store: one daily_activities row per
// (user, date) plus a sync_backlog row holding deltas that failed to reach
// the remote store.
type Local struct {
	db db.Querier
}

func NewLocal(q db.Querier) *Local {
	return &Local{db: q}
}

// Upsert writes the record under its userId_date key. Route points replace
// the stored list wholesale; the caller owns merge semantics.
func (l *Local) Upsert(ctx context.Context, rec activity.DailyRecord) error {
	points, err := json.Marshal(rec.RoutePoints)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO daily_activities
			(id, user_id, date, steps, distance_km, calories_kcal, altitude_gain_m, active_minutes, route_points, is_synced, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		ON CONFLICT (id) DO UPDATE SET
			steps = EXCLUDED.steps,
			distance_km = EXCLUDED.distance_km,
			calories_kcal = EXCLUDED.calories_kcal,
			altitude_gain_m = EXCLUDED.altitude_gain_m,
			active_minutes = EXCLUDED.active_minutes,
			route_points = EXCLUDED.route_points,
			is_synced = EXCLUDED.is_synced,
			updated_at = NOW()
	`, rec.ID(), rec.UserID, rec.Date, rec.Steps, rec.DistanceKm, rec.CaloriesKcal,
		rec.AltitudeGainM, rec.ActiveMinutes, points, rec.IsSynced)
	return err
}

// Get loads one record; the second return is false when no row exists.
func (l *Local) Get(ctx context.Context, userID, date string) (activity.DailyRecord, bool, error) {
	row := l.db.QueryRow(ctx, `
		SELECT user_id, date, steps, distance_km, calories_kcal, altitude_gain_m, active_minutes, route_points, is_synced, updated_at
		FROM daily_activities WHERE id = $1
	`, activity.RecordID(userID, date))

	var rec activity.DailyRecord
	var points []byte
	err := row.Scan(&rec.UserID, &rec.Date, &rec.Steps, &rec.DistanceKm, &rec.CaloriesKcal,
		&rec.AltitudeGainM, &rec.ActiveMinutes, &points, &rec.IsSynced, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return activity.DailyRecord{}, false, nil
	}
	if err != nil {
		return activity.DailyRecord{}, false, err
	}
	if len(points) > 0 {
		if err := json.Unmarshal(points, &rec.RoutePoints); err != nil {
			return activity.DailyRecord{}, false, err
		}
	}
	return rec, true, nil
}

// ListUnsynced returns the user's records still awaiting a remote ack.
func (l *Local) ListUnsynced(ctx context.Context, userID string) ([]activity.DailyRecord, error) {
	rows, err := l.db.Query(ctx, `
		SELECT user_id, date, steps, distance_km, calories_kcal, altitude_gain_m, active_minutes, is_synced, updated_at
		FROM daily_activities
		WHERE user_id = $1 AND is_synced = false
		ORDER BY date
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []activity.DailyRecord
	for rows.Next() {
		var rec activity.DailyRecord
		if err := rows.Scan(&rec.UserID, &rec.Date, &rec.Steps, &rec.DistanceKm, &rec.CaloriesKcal,
			&rec.AltitudeGainM, &rec.ActiveMinutes, &rec.IsSynced, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSynced flips the local flag after the remote store acknowledged the
// corresponding increment.
func (l *Local) MarkSynced(ctx context.Context, userID, date string) error {
	_, err := l.db.Exec(ctx, `
		UPDATE daily_activities SET is_synced = true, updated_at = NOW() WHERE id = $1
	`, activity.RecordID(userID, date))
	return err
}

// AddBacklog folds a failed delta into the offline buffer so it compounds
// with the next sync attempt instead of being lost.
func (l *Local) AddBacklog(ctx context.Context, userID, date string, d activity.Delta) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO sync_backlog (id, user_id, date, steps, distance_km, calories_kcal, altitude_gain_m, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (id) DO UPDATE SET
			steps = sync_backlog.steps + EXCLUDED.steps,
			distance_km = sync_backlog.distance_km + EXCLUDED.distance_km,
			calories_kcal = sync_backlog.calories_kcal + EXCLUDED.calories_kcal,
			altitude_gain_m = sync_backlog.altitude_gain_m + EXCLUDED.altitude_gain_m,
			updated_at = NOW()
	`, activity.RecordID(userID, date), userID, date, d.Steps, d.DistanceKm, d.CaloriesKcal, d.AltitudeGainM)
	return err
}

// Backlog returns the buffered offline delta for the day (zero when none).
func (l *Local) Backlog(ctx context.Context, userID, date string) (activity.Delta, error) {
	row := l.db.QueryRow(ctx, `
		SELECT steps, distance_km, calories_kcal, altitude_gain_m
		FROM sync_backlog WHERE id = $1
	`, activity.RecordID(userID, date))

	var d activity.Delta
	err := row.Scan(&d.Steps, &d.DistanceKm, &d.CaloriesKcal, &d.AltitudeGainM)
	if errors.Is(err, pgx.ErrNoRows) {
		return activity.Delta{}, nil
	}
	if err != nil {
		return activity.Delta{}, err
	}
	return d, nil
}

// ClearBacklog drops the buffered delta once the remote store accepted it.
func (l *Local) ClearBacklog(ctx context.Context, userID, date string) error {
	_, err := l.db.Exec(ctx, `
		DELETE FROM sync_backlog WHERE id = $1
	`, activity.RecordID(userID, date))
	return err
}

// Profile reads the user's physiology. Missing users or zeroed columns fall
// back to the defaults.
func (l *Local) Profile(ctx context.Context, userID string) (activity.Profile, error) {
	row := l.db.QueryRow(ctx, `
		SELECT COALESCE(weight_kg, 0), COALESCE(stride_m, 0)
		FROM users WHERE id = $1
	`, userID)

	var p activity.Profile
	if err := row.Scan(&p.WeightKg, &p.StrideM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return activity.DefaultProfile, nil
		}
		return activity.DefaultProfile, err
	}
	if p.WeightKg <= 0 {
		p.WeightKg = activity.DefaultProfile.WeightKg
	}
	if p.StrideM <= 0 {
		p.StrideM = activity.DefaultProfile.StrideM
	}
	return p, nil
}
