package tracker

import (
	"sync"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
	"github.com/coconiss/WalkTracker-sub000/internal/altitude"
	"github.com/coconiss/WalkTracker-sub000/internal/energy"
	"github.com/coconiss/WalkTracker-sub000/internal/geo"
)

const (
	maxAccuracyM        = 50.0
	minReportedSpeed    = 0.2
	stabilizationWindow = 20 * time.Second
	maxFixGap           = 60 * time.Second
	minDistanceM        = 5.0
	maxSpeedJumpMps     = 2.0
	maxPlausibleSpeed   = 6.5
	minWalkingSpeed     = 0.5

	pressureDeltaRunningHPa = 0.3
	pressureDeltaWalkingHPa = 0.2

	emitInterval        = 3 * time.Second
	transitionBufferCap = 3
)

// Processor fuses raw location fixes, step samples, pressure samples and
// activity transitions into monotonic daily totals. All mutating methods are
// serialized by the supervisor's event loop; the mutex additionally guards
// snapshot reads from the sync and stream paths.
type Processor struct {
	mu      sync.Mutex
	userID  string
	profile activity.Profile
	now     func() time.Time

	filter *altitude.Filter

	// motion classifier state
	motion       activity.MotionState
	prevMotion   activity.MotionState
	transitionAt time.Time

	// session accumulator, zero-based for this process lifetime
	steps         int64
	distanceKm    float64
	caloriesKcal  float64
	altitudeGainM float64
	speedMps      float64
	lastSpeedMps  float64

	prevFix *activity.LocationFix

	pressureHPa     float64
	pressureTimeMs  int64
	havePressure    bool
	anchorPressure  float64
	haveAnchorPress bool

	stepBaseline    int64
	stepBaselineSet bool
	hasStepSensor   bool

	// start-of-day baseline absorbed from the persisted record
	baseSteps      int64
	baseDistanceKm float64
	baseCalories   float64
	baseAltitude   float64

	date string

	// routeQueue holds points not yet acknowledged by the remote store;
	// dayRoute holds every point of the day for local persistence.
	routeQueue []activity.RoutePoint
	dayRoute   []activity.RoutePoint

	// high-water marks of the last successful remote sync
	syncedSteps      int64
	syncedDistanceKm float64
	syncedCalories   float64
	syncedAltitude   float64

	transitionBuf []activity.LocationFix

	lastMotionAt time.Time

	onStatus   func(activity.Snapshot)
	onLocation func(activity.LocationFix)
	lastEmit   time.Time

	// sink calls staged under the lock, delivered after release
	stagedStatus *activity.Snapshot
	stagedFixes  []activity.LocationFix
}

type Option func(*Processor)

// WithClock injects the wall clock. Tests drive time through this.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithStatusSink registers the throttled snapshot consumer.
func WithStatusSink(fn func(activity.Snapshot)) Option {
	return func(p *Processor) { p.onStatus = fn }
}

// WithLocationSink registers the raw location consumer (map view).
func WithLocationSink(fn func(activity.LocationFix)) Option {
	return func(p *Processor) { p.onLocation = fn }
}

func NewProcessor(userID string, profile activity.Profile, opts ...Option) *Processor {
	p := &Processor{
		userID:  userID,
		profile: profile,
		now:     time.Now,
		filter:  altitude.NewFilter(),
		motion:  activity.Unknown,
	}
	if p.profile.WeightKg <= 0 {
		p.profile.WeightKg = activity.DefaultProfile.WeightKg
	}
	if p.profile.StrideM <= 0 {
		p.profile.StrideM = activity.DefaultProfile.StrideM
	}
	for _, opt := range opts {
		opt(p)
	}
	p.date = activity.DateKey(p.now())
	return p
}

// SetBaseline absorbs a persisted start-of-day record so session totals add
// onto a pre-existing partial day.
func (p *Processor) SetBaseline(rec activity.DailyRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseSteps = rec.Steps
	p.baseDistanceKm = rec.DistanceKm
	p.baseCalories = rec.CaloriesKcal
	p.baseAltitude = rec.AltitudeGainM
	if rec.Date != "" {
		p.date = rec.Date
	}
	p.dayRoute = append([]activity.RoutePoint{}, rec.RoutePoints...)
}

// HandleLocationFix runs the plausibility gate chain and, when every gate
// passes, accumulates distance, calories, altitude and a route point. Sink
// callbacks fire after the lock is released so a slow consumer cannot
// stall accumulation or snapshot readers.
func (p *Processor) HandleLocationFix(fix activity.LocationFix) {
	p.mu.Lock()
	p.handleFixLocked(fix)
	fixes, status := p.takeStagedLocked()
	p.mu.Unlock()
	p.deliver(fixes, status)
}

func (p *Processor) handleFixLocked(fix activity.LocationFix) {
	now := p.now()

	// Unreliable fix: poor accuracy with no corroborating speed. Keep it
	// as the anchor so the next good fix has a reference, but accumulate
	// nothing.
	if fix.AccuracyM > maxAccuracyM && reportedSpeed(fix) < minReportedSpeed {
		p.prevFix = &fix
		return
	}

	if p.motion == activity.Vehicle {
		p.prevFix = &fix
		p.emitLocation(fix)
		return
	}

	// Post-transition grace: GPS and activity recognition need time to
	// settle. Hold the fix in view but trust nothing.
	if !p.transitionAt.IsZero() && now.Sub(p.transitionAt) < stabilizationWindow {
		if len(p.transitionBuf) >= transitionBufferCap {
			p.transitionBuf = p.transitionBuf[1:]
		}
		p.transitionBuf = append(p.transitionBuf, fix)
		p.emitLocation(fix)
		return
	}

	if p.prevFix == nil {
		p.prevFix = &fix
		p.emitLocation(fix)
		return
	}

	dt := float64(fix.TimestampMs-p.prevFix.TimestampMs) / 1000
	if dt <= 0 {
		return
	}
	if dt > maxFixGap.Seconds() {
		// Signal loss or subway ride; restart from here.
		p.prevFix = &fix
		p.emitLocation(fix)
		return
	}

	distM := geo.DistanceM(p.prevFix.Lat, p.prevFix.Lng, fix.Lat, fix.Lng)
	if distM < minDistanceM {
		return
	}

	speed := reportedSpeed(fix)
	if speed <= 0 {
		speed = distM / dt
		// A derived speed cannot jump arbitrarily from the last
		// accepted one.
		if speed > p.lastSpeedMps+maxSpeedJumpMps {
			speed = p.lastSpeedMps + maxSpeedJumpMps
		} else if speed < p.lastSpeedMps-maxSpeedJumpMps {
			speed = p.lastSpeedMps - maxSpeedJumpMps
		}
	}

	if speed > maxPlausibleSpeed {
		p.prevFix = nil
		return
	}
	if p.motion == activity.Walking && speed < minWalkingSpeed {
		p.prevFix = nil
		return
	}

	p.distanceKm += distM / 1000

	p.accumulateAltitude(fix)

	if !p.hasStepSensor {
		p.steps = int64(p.distanceKm * 1000 / p.profile.StrideM)
	}

	p.caloriesKcal += energy.Kcal(p.profile.WeightKg, speed, dt, p.motion)

	point := activity.RoutePoint{
		Lat:         fix.Lat,
		Lng:         fix.Lng,
		TimestampMs: fix.TimestampMs,
		Motion:      p.motion,
		SpeedMps:    speed,
	}
	p.routeQueue = append(p.routeQueue, point)
	p.dayRoute = append(p.dayRoute, point)

	p.speedMps = speed
	p.lastSpeedMps = speed
	p.lastMotionAt = now
	p.prevFix = &fix

	p.emitLocation(fix)
	p.emitStatus(false)
}

// accumulateAltitude feeds the barometer into the filter, gated on a
// motion-dependent minimum pressure change against the last accepted fix.
func (p *Processor) accumulateAltitude(fix activity.LocationFix) {
	if !p.havePressure {
		return
	}

	if p.haveAnchorPress {
		delta := p.pressureHPa - p.anchorPressure
		if delta < 0 {
			delta = -delta
		}
		threshold := pressureDeltaWalkingHPa
		if p.motion == activity.Running {
			threshold = pressureDeltaRunningHPa
		}
		if delta < threshold {
			return
		}
	}

	gain := p.filter.Observe(p.pressureHPa, fix.TimestampMs, p.motion.OnFoot())
	if gain > 0 {
		p.altitudeGainM += gain
	}
	p.anchorPressure = p.pressureHPa
	p.haveAnchorPress = true
}

func reportedSpeed(fix activity.LocationFix) float64 {
	if fix.SpeedMps > 0 {
		return fix.SpeedMps
	}
	return 0
}

func (p *Processor) emitLocation(fix activity.LocationFix) {
	if p.onLocation != nil {
		p.stagedFixes = append(p.stagedFixes, fix)
	}
}

// emitStatus stages a snapshot for the status sink, at most once per
// emitInterval unless forced.
func (p *Processor) emitStatus(force bool) {
	if p.onStatus == nil {
		return
	}
	now := p.now()
	if !force && now.Sub(p.lastEmit) < emitInterval {
		return
	}
	p.lastEmit = now
	snap := p.snapshotLocked()
	p.stagedStatus = &snap
}

func (p *Processor) takeStagedLocked() ([]activity.LocationFix, *activity.Snapshot) {
	fixes := p.stagedFixes
	status := p.stagedStatus
	p.stagedFixes = nil
	p.stagedStatus = nil
	return fixes, status
}

func (p *Processor) deliver(fixes []activity.LocationFix, status *activity.Snapshot) {
	if p.onLocation != nil {
		for _, fix := range fixes {
			p.onLocation(fix)
		}
	}
	if status != nil && p.onStatus != nil {
		p.onStatus(*status)
	}
}

func (p *Processor) snapshotLocked() activity.Snapshot {
	return activity.Snapshot{
		UserID:        p.userID,
		Date:          p.date,
		Steps:         p.baseSteps + p.steps,
		DistanceKm:    p.baseDistanceKm + p.distanceKm,
		CaloriesKcal:  p.baseCalories + p.caloriesKcal,
		AltitudeGainM: p.baseAltitude + p.altitudeGainM,
		SpeedMps:      p.speedMps,
		Motion:        p.motion,
	}
}

// Snapshot returns the live totals including the start-of-day baseline.
func (p *Processor) Snapshot() activity.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Motion returns the current classifier state.
func (p *Processor) Motion() activity.MotionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.motion
}

// LastMotionAt returns the time of the last accepted motion, for the
// stillness watchdog.
func (p *Processor) LastMotionAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMotionAt
}

// Date returns the calendar day the session is accumulating against.
func (p *Processor) Date() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.date
}

// DateChanged reports whether t falls on a different calendar day than the
// session is accumulating against.
func (p *Processor) DateChanged(t time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return activity.DateKey(t) != p.date
}
