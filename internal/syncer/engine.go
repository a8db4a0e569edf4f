package syncer

import (
	"context"
	"log"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/remote"
)

// Status classifies a reconcile attempt. The engine never panics or throws
// across this boundary; the supervisor decides retry bookkeeping from the
// outcome alone.
type Status int

const (
	StatusSynced  Status = iota // remote accepted the combined delta
	StatusNoop                  // nothing pending, no network call made
	StatusSkipped               // no authenticated user this cycle
	StatusFailed                // remote unreachable, delta preserved
)

func (s Status) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusNoop:
		return "noop"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Status Status
	Err    error
}

// Session is the live accumulator view the engine reconciles.
type Session interface {
	PendingDelta() activity.Delta
	CommitSync(activity.Delta)
	CommitDeferred(activity.Delta)
	DayRecord() activity.DailyRecord
}

// LocalStore is the durable side of the bridge (daily records + offline
// backlog).
type LocalStore interface {
	Upsert(ctx context.Context, rec activity.DailyRecord) error
	Get(ctx context.Context, userID, date string) (activity.DailyRecord, bool, error)
	ListUnsynced(ctx context.Context, userID string) ([]activity.DailyRecord, error)
	MarkSynced(ctx context.Context, userID, date string) error
	AddBacklog(ctx context.Context, userID, date string, d activity.Delta) error
	Backlog(ctx context.Context, userID, date string) (activity.Delta, error)
	ClearBacklog(ctx context.Context, userID, date string) error
}

// Engine reconciles session deltas plus the offline backlog against the
// remote store with at-least-once semantics. It holds no locks across
// network calls: it snapshots, performs I/O, then commits.
type Engine struct {
	local  LocalStore
	remote remote.Store
}

func New(local LocalStore, remoteStore remote.Store) *Engine {
	return &Engine{local: local, remote: remoteStore}
}

// Reconcile pushes everything the day has accumulated since the last
// successful sync. Zero pending work is an idempotent no-op: no network
// call is made.
func (e *Engine) Reconcile(ctx context.Context, userID, date string, sess Session) Outcome {
	if userID == "" {
		return Outcome{Status: StatusSkipped}
	}

	delta := sess.PendingDelta()
	backlog, err := e.local.Backlog(ctx, userID, date)
	if err != nil {
		return Outcome{Status: StatusFailed, Err: err}
	}
	combined := delta.Add(backlog)

	rec := sess.DayRecord()

	if combined.IsZero() {
		// Records are created lazily on first recorded motion; a day
		// that never moved writes no row at all.
		if rec.IsEmpty() {
			return Outcome{Status: StatusNoop}
		}
		rec.IsSynced = true
		if err := e.local.Upsert(ctx, rec); err != nil {
			log.Printf("syncer: local upsert failed: %v", err)
		}
		return Outcome{Status: StatusNoop}
	}

	if err := e.remote.IncrementDaily(ctx, userID, date, combined); err != nil {
		// The numeric delta moves into the durable backlog so the next
		// attempt compounds it; route points stay queued in the session.
		if backlogErr := e.local.AddBacklog(ctx, userID, date, numericOnly(delta)); backlogErr != nil {
			log.Printf("syncer: backlog write failed: %v", backlogErr)
		} else {
			sess.CommitDeferred(delta)
		}
		rec.IsSynced = false
		if upsertErr := e.local.Upsert(ctx, rec); upsertErr != nil {
			log.Printf("syncer: local upsert failed: %v", upsertErr)
		}
		return Outcome{Status: StatusFailed, Err: err}
	}

	sess.CommitSync(delta)
	if err := e.local.ClearBacklog(ctx, userID, date); err != nil {
		log.Printf("syncer: backlog clear failed: %v", err)
	}
	rec.IsSynced = true
	if err := e.local.Upsert(ctx, rec); err != nil {
		log.Printf("syncer: local upsert failed: %v", err)
	}
	return Outcome{Status: StatusSynced}
}

// FlushUnsynced retries the backlog of previous days (e.g. a rollover that
// happened offline). Best effort; failures stay buffered.
func (e *Engine) FlushUnsynced(ctx context.Context, userID, currentDate string) {
	if userID == "" {
		return
	}
	records, err := e.local.ListUnsynced(ctx, userID)
	if err != nil {
		log.Printf("syncer: list unsynced failed: %v", err)
		return
	}
	for _, rec := range records {
		if rec.Date == currentDate {
			continue
		}
		backlog, err := e.local.Backlog(ctx, userID, rec.Date)
		if err != nil {
			log.Printf("syncer: backlog read failed for %s: %v", rec.Date, err)
			continue
		}
		if backlog.IsZero() {
			if err := e.local.MarkSynced(ctx, userID, rec.Date); err != nil {
				log.Printf("syncer: mark synced failed for %s: %v", rec.Date, err)
			}
			continue
		}
		if err := e.remote.IncrementDaily(ctx, userID, rec.Date, backlog); err != nil {
			log.Printf("syncer: flush failed for %s: %v", rec.Date, err)
			continue
		}
		if err := e.local.ClearBacklog(ctx, userID, rec.Date); err != nil {
			log.Printf("syncer: backlog clear failed for %s: %v", rec.Date, err)
		}
		if err := e.local.MarkSynced(ctx, userID, rec.Date); err != nil {
			log.Printf("syncer: mark synced failed for %s: %v", rec.Date, err)
		}
	}
}

func numericOnly(d activity.Delta) activity.Delta {
	return activity.Delta{
		Steps:         d.Steps,
		DistanceKm:    d.DistanceKm,
		CaloriesKcal:  d.CaloriesKcal,
		AltitudeGainM: d.AltitudeGainM,
	}
}
