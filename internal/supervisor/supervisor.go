package supervisor

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/remote"
	"github.com/coconiss/WalkTracker-sub000/internal/syncer"
	"github.com/coconiss/WalkTracker-sub000/internal/tracker"
)

type State int

const (
	Stopped State = iota
	Running
)

const (
	eventQueueSize   = 256
	rolloverTimeout  = 10 * time.Second
	finalSyncTimeout = 5 * time.Second
)

var ErrAlreadyRunning = errors.New("supervisor already running")
var ErrNotRunning = errors.New("supervisor not running")

type eventKind int

const (
	evStep eventKind = iota
	evPressure
	evFix
	evTransition
	evReset
)

type event struct {
	kind     eventKind
	steps    int64
	pressure float64
	tsMs     int64
	fix      activity.LocationFix
	motion   activity.MotionState
	done     chan error
}

type Config struct {
	SyncInterval     time.Duration
	StillTimeout     time.Duration
	WatchdogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.StillTimeout <= 0 {
		c.StillTimeout = 2 * time.Minute
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 15 * time.Second
	}
	return c
}

// Supervisor owns one user's tracking lifecycle: it serializes every
// accumulator mutation through a single event loop, runs the periodic sync
// and the stillness watchdog, and adapts the sensor cadence to the motion
// state.
type Supervisor struct {
	userID string
	proc   *tracker.Processor
	engine *syncer.Engine
	local  syncer.LocalStore
	remote remote.Store
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	cadence   Cadence
	stillMode bool
	startedAt time.Time

	onCadence func(Cadence)

	events chan event
	stop   chan struct{}
	wg     sync.WaitGroup

	// syncMu serializes reconcile attempts; syncBusy lets the periodic
	// tick skip a cycle instead of piling up behind a slow network.
	syncMu   sync.Mutex
	syncBusy atomic.Bool
}

type Option func(*Supervisor)

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithCadenceSink registers the platform adapter that (re)subscribes
// sensors. Called only when the cadence actually changes.
func WithCadenceSink(fn func(Cadence)) Option {
	return func(s *Supervisor) { s.onCadence = fn }
}

func New(userID string, proc *tracker.Processor, engine *syncer.Engine, local syncer.LocalStore, remoteStore remote.Store, cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		userID: userID,
		proc:   proc,
		engine: engine,
		local:  local,
		remote: remoteStore,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		events: make(chan event, eventQueueSize),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the start-of-day baseline (local store first, remote as
// fallback), begins the event loop, the sync ticker and the watchdog.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Running
	s.startedAt = s.now()
	s.stop = make(chan struct{})
	s.events = make(chan event, eventQueueSize)
	s.mu.Unlock()

	s.loadBaseline(ctx)
	s.applyCadence(cadenceFor(s.proc.Motion(), false))

	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Supervisor) loadBaseline(ctx context.Context) {
	date := activity.DateKey(s.now())
	rec, ok, err := s.local.Get(ctx, s.userID, date)
	if err != nil {
		log.Printf("supervisor: local baseline read failed: %v", err)
	}
	if !ok {
		rec, ok, err = s.remote.GetDaily(ctx, s.userID, date)
		if err != nil {
			log.Printf("supervisor: remote baseline read failed: %v", err)
		}
	}
	if ok {
		rec.Date = date
		s.proc.SetBaseline(rec)
	}
}

// Stop drains the lifecycle: cancels the timers, attempts one bounded final
// sync, and zeroes the in-memory session. A failed final sync leaves its
// delta in the offline backlog.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = Stopped
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, finalSyncTimeout)
		defer cancel()
	}
	out := s.reconcile(ctx)
	if out.Status == syncer.StatusFailed {
		log.Printf("supervisor: final sync failed, delta preserved: %v", out.Err)
	}

	s.proc.Reset()
	s.applyCadence(Cadence{})
	return nil
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	watchdog := time.NewTicker(s.cfg.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.events:
			s.handle(ev)
		case <-syncTicker.C:
			if s.syncBusy.CompareAndSwap(false, true) {
				go func() {
					defer s.syncBusy.Store(false)
					s.reconcile(context.Background())
				}()
			}
		case <-watchdog.C:
			s.checkStillness()
		}
	}
}

func (s *Supervisor) handle(ev event) {
	switch ev.kind {
	case evStep:
		before := s.proc.LastMotionAt()
		s.proc.OnStepSample(ev.steps)
		s.promoteIfMoved(before)
	case evPressure:
		s.proc.OnPressureSample(ev.pressure, ev.tsMs)
	case evFix:
		s.rolloverIfNeeded()
		before := s.proc.LastMotionAt()
		s.proc.HandleLocationFix(ev.fix)
		s.promoteIfMoved(before)
	case evTransition:
		s.proc.OnActivityTransition(ev.motion)
		s.mu.Lock()
		s.stillMode = false
		s.mu.Unlock()
		s.replanCadence()
	case evReset:
		ev.done <- s.resetToday()
	}
}

// rolloverIfNeeded is the day barrier: flush the old day, zero the session,
// reload the new day's baseline, all before any new-day fix is accumulated.
func (s *Supervisor) rolloverIfNeeded() {
	now := s.now()
	if !s.proc.DateChanged(now) {
		return
	}
	oldDate := s.proc.Date()
	ctx, cancel := context.WithTimeout(context.Background(), rolloverTimeout)
	defer cancel()

	out := s.reconcileDate(ctx, oldDate)
	if out.Status == syncer.StatusFailed {
		log.Printf("supervisor: rollover flush for %s failed, delta buffered: %v", oldDate, out.Err)
	}

	s.proc.RollOver(activity.DateKey(now))
	s.loadBaseline(ctx)
}

func (s *Supervisor) promoteIfMoved(before time.Time) {
	s.mu.Lock()
	still := s.stillMode
	s.mu.Unlock()
	if !still {
		return
	}
	if s.proc.LastMotionAt().After(before) {
		s.mu.Lock()
		s.stillMode = false
		s.mu.Unlock()
		s.replanCadence()
	}
}

func (s *Supervisor) checkStillness() {
	s.mu.Lock()
	already := s.stillMode
	s.mu.Unlock()
	if already {
		return
	}
	last := s.proc.LastMotionAt()
	if last.IsZero() {
		// Never moved since Start: the idle clock runs from there.
		s.mu.Lock()
		last = s.startedAt
		s.mu.Unlock()
	}
	if s.now().Sub(last) >= s.cfg.StillTimeout {
		s.mu.Lock()
		s.stillMode = true
		s.mu.Unlock()
		s.replanCadence()
	}
}

func (s *Supervisor) replanCadence() {
	s.mu.Lock()
	still := s.stillMode
	s.mu.Unlock()
	s.applyCadence(cadenceFor(s.proc.Motion(), still))
}

func (s *Supervisor) applyCadence(c Cadence) {
	s.mu.Lock()
	changed := c != s.cadence
	if changed {
		s.cadence = c
	}
	sink := s.onCadence
	s.mu.Unlock()
	if changed && sink != nil {
		sink(c)
	}
}

func (s *Supervisor) reconcile(ctx context.Context) syncer.Outcome {
	return s.reconcileDate(ctx, s.proc.Date())
}

func (s *Supervisor) reconcileDate(ctx context.Context, date string) syncer.Outcome {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	out := s.engine.Reconcile(ctx, s.userID, date, s.proc)
	s.engine.FlushUnsynced(ctx, s.userID, date)
	return out
}

func (s *Supervisor) resetToday() error {
	date := s.proc.Date()
	s.proc.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), rolloverTimeout)
	defer cancel()
	if err := s.local.ClearBacklog(ctx, s.userID, date); err != nil {
		return err
	}
	rec := activity.DailyRecord{UserID: s.userID, Date: date, IsSynced: true, RoutePoints: []activity.RoutePoint{}}
	if err := s.local.Upsert(ctx, rec); err != nil {
		return err
	}
	return s.remote.ResetDaily(ctx, s.userID, date)
}

func (s *Supervisor) enqueue(ev event) {
	s.mu.Lock()
	running := s.state == Running
	events := s.events
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case events <- ev:
	default:
		// Sensor delivery outpaced the loop; dropping the sample is the
		// documented degradation.
		log.Printf("supervisor: event queue full, dropping event kind=%d", ev.kind)
	}
}

// Inbound surface. Sensor callbacks arrive on arbitrary goroutines and are
// handed off to the single-writer loop.

func (s *Supervisor) OnStepSample(totalSinceBoot int64) {
	s.enqueue(event{kind: evStep, steps: totalSinceBoot})
}

func (s *Supervisor) OnPressureSample(pressureHPa float64, timestampMs int64) {
	s.enqueue(event{kind: evPressure, pressure: pressureHPa, tsMs: timestampMs})
}

func (s *Supervisor) OnLocationFix(fix activity.LocationFix) {
	s.enqueue(event{kind: evFix, fix: fix})
}

func (s *Supervisor) OnActivityTransition(to activity.MotionState) {
	s.enqueue(event{kind: evTransition, motion: to})
}

// ResetToday zeroes the current day everywhere: session, backlog, local
// record, and remote document (the one deliberate overwrite).
func (s *Supervisor) ResetToday(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	s.enqueue(event{kind: evReset, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces an immediate reconcile outside the periodic schedule.
func (s *Supervisor) Flush(ctx context.Context) syncer.Outcome {
	return s.reconcile(ctx)
}

// Snapshot returns the live totals.
func (s *Supervisor) Snapshot() activity.Snapshot {
	return s.proc.Snapshot()
}

// Cadence returns the sensor plan currently in force.
func (s *Supervisor) Cadence() Cadence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cadence
}

// StateOf returns the lifecycle state.
func (s *Supervisor) StateOf() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
