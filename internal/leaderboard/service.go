package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/db"
	"github.com/jackc/pgx/v5"
)

// Period is the ranking window granularity.
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

// Entry is one user's rank for a period, ordered by total distance.
type Entry struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	DistanceKm  float64   `json:"distance_km"`
	Period      Period    `json:"period"`
	PeriodKey   string    `json:"period_key"`
	Rank        int       `json:"rank"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

// dateRange expands a period key into its inclusive date range.
// Keys: daily "2025-05-10", monthly "2025-05", yearly "2025".
func dateRange(period Period, key string) (string, string, error) {
	switch period {
	case Daily:
		return key, key, nil
	case Monthly:
		t, err := time.Parse("2006-01", key)
		if err != nil {
			return "", "", fmt.Errorf("bad monthly key %q: %w", key, err)
		}
		lastDay := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		return key + "-01", fmt.Sprintf("%s-%02d", key, lastDay), nil
	case Yearly:
		if _, err := time.Parse("2006", key); err != nil {
			return "", "", fmt.Errorf("bad yearly key %q: %w", key, err)
		}
		return key + "-01-01", key + "-12-31", nil
	default:
		return "", "", fmt.Errorf("unknown period %q", period)
	}
}

// UpdatePeriod recomputes the ranking for a period from daily_activities and
// overwrites the rankings rows. Overwrite is deliberate here: a recompute
// replaces the previous aggregate entirely.
func (s *Service) UpdatePeriod(ctx context.Context, period Period, key string) (int, error) {
	start, end, err := dateRange(period, key)
	if err != nil {
		return 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT d.user_id, COALESCE(u.username, 'Unknown User'), SUM(d.distance_km)
		FROM daily_activities d
		LEFT JOIN users u ON u.id = d.user_id
		WHERE d.date >= $1 AND d.date <= $2
		GROUP BY d.user_id, u.username
		ORDER BY SUM(d.distance_km) DESC
	`, start, end)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.DistanceKm); err != nil {
			return 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for i, e := range entries {
		rank := i + 1
		id := fmt.Sprintf("%s_%s_%s", period, key, e.UserID)
		batch.Queue(`
			INSERT INTO rankings (id, user_id, display_name, distance_km, period, period_key, rank, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				distance_km = EXCLUDED.distance_km,
				rank = EXCLUDED.rank,
				updated_at = NOW()
		`, id, e.UserID, e.DisplayName, e.DistanceKm, string(period), key, rank)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// Top returns the leading entries for a period.
func (s *Service) Top(ctx context.Context, period Period, key string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT user_id, display_name, distance_km, period, period_key, rank, updated_at
		FROM rankings
		WHERE period = $1 AND period_key = $2
		ORDER BY rank
		LIMIT $3
	`, string(period), key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.DistanceKm, &e.Period, &e.PeriodKey, &e.Rank, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RunDue recomputes yesterday's daily ranking, plus last month's on the
// first of the month and last year's on January 1st.
func (s *Service) RunDue(ctx context.Context, now time.Time) error {
	yesterday := now.AddDate(0, 0, -1)
	if _, err := s.UpdatePeriod(ctx, Daily, yesterday.Format("2006-01-02")); err != nil {
		return err
	}

	if now.Day() == 1 {
		lastMonth := now.AddDate(0, 0, -1)
		if _, err := s.UpdatePeriod(ctx, Monthly, lastMonth.Format("2006-01")); err != nil {
			return err
		}
	}

	if now.Month() == time.January && now.Day() == 1 {
		lastYear := now.AddDate(0, 0, -1)
		if _, err := s.UpdatePeriod(ctx, Yearly, lastYear.Format("2006")); err != nil {
			return err
		}
	}
	return nil
}
