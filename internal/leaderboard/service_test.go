package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestDateRange(t *testing.T) {
	cases := []struct {
		period Period
		key    string
		start  string
		end    string
	}{
		{Daily, "2025-05-10", "2025-05-10", "2025-05-10"},
		{Monthly, "2025-02", "2025-02-01", "2025-02-28"},
		{Monthly, "2024-02", "2024-02-01", "2024-02-29"},
		{Monthly, "2025-12", "2025-12-01", "2025-12-31"},
		{Yearly, "2025", "2025-01-01", "2025-12-31"},
	}
	for _, c := range cases {
		start, end, err := dateRange(c.period, c.key)
		if err != nil {
			t.Fatalf("%s/%s: %v", c.period, c.key, err)
		}
		if start != c.start || end != c.end {
			t.Fatalf("%s/%s: got [%s, %s], want [%s, %s]", c.period, c.key, start, end, c.start, c.end)
		}
	}
	if _, _, err := dateRange(Monthly, "bogus"); err == nil {
		t.Fatalf("expected error for bad key")
	}
	if _, _, err := dateRange(Period("weekly"), "2025-05-10"); err == nil {
		t.Fatalf("expected error for unknown period")
	}
}

func TestUpdatePeriodRanksByDistance(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT d.user_id, COALESCE\(u.username, 'Unknown User'\), SUM\(d.distance_km\)`).
		WithArgs("2025-05-10", "2025-05-10").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "username", "distance"}).
			AddRow("user-b", "runner", 12.5).
			AddRow("user-a", "walker", 4.2))

	eb := mock.ExpectBatch()
	eb.ExpectExec(`INSERT INTO rankings`).
		WithArgs("daily_2025-05-10_user-b", "user-b", "runner", 12.5, "daily", "2025-05-10", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	eb.ExpectExec(`INSERT INTO rankings`).
		WithArgs("daily_2025-05-10_user-a", "user-a", "walker", 4.2, "daily", "2025-05-10", 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	count, err := svc.UpdatePeriod(context.Background(), Daily, "2025-05-10")
	if err != nil {
		t.Fatalf("update period: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 entries, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdatePeriodEmpty(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT d.user_id`).
		WithArgs("2025-05-10", "2025-05-10").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "username", "distance"}))

	count, err := svc.UpdatePeriod(context.Background(), Daily, "2025-05-10")
	if err != nil {
		t.Fatalf("update period: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no entries, got %d", count)
	}
}

func TestTop(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock)

	mock.ExpectQuery(`SELECT user_id, display_name, distance_km, period, period_key, rank, updated_at`).
		WithArgs("daily", "2025-05-10", 10).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "display_name", "distance_km", "period", "period_key", "rank", "updated_at"}).
			AddRow("user-b", "runner", 12.5, "daily", "2025-05-10", 1, time.Now()).
			AddRow("user-a", "walker", 4.2, "daily", "2025-05-10", 2, time.Now()))

	entries, err := svc.Top(context.Background(), Daily, "2025-05-10", 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(entries) != 2 || entries[0].Rank != 1 || entries[0].UserID != "user-b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
