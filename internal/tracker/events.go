package tracker

import (
	"github.com/coconiss/WalkTracker-sub000/internal/activity"
)

// OnStepSample consumes the platform step counter, which reports a running
// total since device boot. The first sample seeds a baseline so a reboot
// (counter back to zero) never inflates the day.
func (p *Processor) OnStepSample(totalSinceBoot int64) {
	p.mu.Lock()
	p.onStepSampleLocked(totalSinceBoot)
	fixes, status := p.takeStagedLocked()
	p.mu.Unlock()
	p.deliver(fixes, status)
}

func (p *Processor) onStepSampleLocked(totalSinceBoot int64) {
	if p.motion == activity.Vehicle {
		return
	}
	if totalSinceBoot < 0 {
		return
	}

	p.hasStepSensor = true

	if !p.stepBaselineSet || totalSinceBoot < p.stepBaseline {
		p.stepBaseline = totalSinceBoot - p.steps
		p.stepBaselineSet = true
		return
	}

	if steps := totalSinceBoot - p.stepBaseline; steps > p.steps {
		p.steps = steps
		p.lastMotionAt = p.now()
		p.emitStatus(false)
	}
}

// OnPressureSample records the latest barometer reading. Altitude gain is
// derived on the next accepted location fix, not here.
func (p *Processor) OnPressureSample(pressureHPa float64, timestampMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressureHPa = pressureHPa
	p.pressureTimeMs = timestampMs
	p.havePressure = true
}

// OnActivityTransition applies a coarse activity-recognition change and
// adjusts the reference frames that the new state invalidates.
func (p *Processor) OnActivityTransition(to activity.MotionState) {
	p.mu.Lock()
	p.onActivityTransitionLocked(to)
	fixes, status := p.takeStagedLocked()
	p.mu.Unlock()
	p.deliver(fixes, status)
}

func (p *Processor) onActivityTransitionLocked(to activity.MotionState) {
	if to == p.motion {
		return
	}

	p.prevMotion = p.motion
	p.motion = to
	p.transitionAt = p.now()
	p.lastMotionAt = p.now()

	switch {
	case to == activity.Still:
		p.speedMps = 0
		p.emitStatus(true)
	case p.prevMotion == activity.Vehicle && to.OnFoot():
		// Different reference frame entirely: the last anchor and the
		// pressure history belong to the vehicle.
		p.prevFix = nil
		p.haveAnchorPress = false
		p.filter.Reset()
	}

	if p.prevMotion == activity.Still && to != activity.Still {
		p.transitionBuf = p.transitionBuf[:0]
	}
}

// PendingDelta snapshots the unsynced increment since the last successful
// remote write. The caller performs I/O without holding any processor lock
// and commits via CommitSync on success.
func (p *Processor) PendingDelta() activity.Delta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return activity.Delta{
		Steps:         p.steps - p.syncedSteps,
		DistanceKm:    p.distanceKm - p.syncedDistanceKm,
		CaloriesKcal:  p.caloriesKcal - p.syncedCalories,
		AltitudeGainM: p.altitudeGainM - p.syncedAltitude,
		RoutePoints:   append([]activity.RoutePoint{}, p.routeQueue...),
	}
}

// CommitSync advances the high-water marks after the remote store accepted
// the delta and drops the flushed route points.
func (p *Processor) CommitSync(d activity.Delta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitNumericLocked(d)
	if n := len(d.RoutePoints); n >= len(p.routeQueue) {
		p.routeQueue = p.routeQueue[:0]
	} else {
		p.routeQueue = p.routeQueue[n:]
	}
}

// CommitDeferred advances only the numeric marks after a failed remote
// write whose delta now lives in the offline backlog. Route points stay
// queued and retry on the next cycle.
func (p *Processor) CommitDeferred(d activity.Delta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitNumericLocked(d)
}

func (p *Processor) commitNumericLocked(d activity.Delta) {
	p.syncedSteps += d.Steps
	p.syncedDistanceKm += d.DistanceKm
	p.syncedCalories += d.CaloriesKcal
	p.syncedAltitude += d.AltitudeGainM
}

// DayRecord builds the full persisted view of the current day: baseline
// plus session totals and the complete route.
func (p *Processor) DayRecord() activity.DailyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return activity.DailyRecord{
		UserID:        p.userID,
		Date:          p.date,
		Steps:         p.baseSteps + p.steps,
		DistanceKm:    p.baseDistanceKm + p.distanceKm,
		CaloriesKcal:  p.baseCalories + p.caloriesKcal,
		AltitudeGainM: p.baseAltitude + p.altitudeGainM,
		RoutePoints:   append([]activity.RoutePoint{}, p.dayRoute...),
		UpdatedAt:     p.now(),
	}
}

// Reset zeroes the whole session: accumulators, marks, route queue, anchors
// and the altitude filter. Used by the user-initiated reset-today and on
// day rollover.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Processor) resetLocked() {
	p.steps = 0
	p.distanceKm = 0
	p.caloriesKcal = 0
	p.altitudeGainM = 0
	p.speedMps = 0
	p.lastSpeedMps = 0
	p.prevFix = nil
	p.haveAnchorPress = false
	p.stepBaselineSet = false
	p.baseSteps = 0
	p.baseDistanceKm = 0
	p.baseCalories = 0
	p.baseAltitude = 0
	p.syncedSteps = 0
	p.syncedDistanceKm = 0
	p.syncedCalories = 0
	p.syncedAltitude = 0
	p.routeQueue = p.routeQueue[:0]
	p.dayRoute = p.dayRoute[:0]
	p.transitionBuf = p.transitionBuf[:0]
	p.filter.Reset()
}

// RollOver zeroes the session and rebinds it to a new calendar day. The
// supervisor flushes the old day before calling this.
func (p *Processor) RollOver(date string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.date = date
}
