package tracker

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fakeClock) ms() int64               { return c.t.UnixMilli() }

func newTestProcessor(t *testing.T, opts ...Option) (*Processor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 5, 10, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	p := NewProcessor("user-1", activity.Profile{WeightKg: 70, StrideM: 0.7}, opts...)
	return p, clock
}

// startWalking transitions into WALKING and waits out the stabilization
// window so fixes are trusted.
func startWalking(p *Processor, clock *fakeClock) {
	p.OnActivityTransition(activity.Walking)
	clock.advance(21 * time.Second)
}

func fixAt(clock *fakeClock, lat, lng float64) activity.LocationFix {
	return activity.LocationFix{Lat: lat, Lng: lng, AccuracyM: 10, TimestampMs: clock.ms()}
}

// latOffsetM shifts latitude by approximately m meters.
func latOffsetM(lat, m float64) float64 {
	return lat + m/111_195
}

func TestTwentyMeterWalkScenario(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))

	snap := p.Snapshot()
	if math.Abs(snap.DistanceKm-0.02) > 0.001 {
		t.Fatalf("expected ~0.02 km, got %v", snap.DistanceKm)
	}
	if math.Abs(snap.SpeedMps-20.0/15) > 0.05 {
		t.Fatalf("expected speed ~1.33, got %v", snap.SpeedMps)
	}
	d := p.PendingDelta()
	if len(d.RoutePoints) != 1 {
		t.Fatalf("expected one route point, got %d", len(d.RoutePoints))
	}
	if math.Abs(d.RoutePoints[0].SpeedMps-20.0/15) > 0.05 {
		t.Fatalf("route point speed: %v", d.RoutePoints[0].SpeedMps)
	}
	if snap.CaloriesKcal <= 0 {
		t.Fatalf("expected calories accrued")
	}
}

func TestDistanceFloor(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(5 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 3), 126.9779))

	if d := p.Snapshot().DistanceKm; d != 0 {
		t.Fatalf("sub-5m hop accumulated %v km", d)
	}
}

func TestSpeedCeilingResetsAnchor(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(10 * time.Second)
	over := fixAt(clock, latOffsetM(37.5663, 100), 126.9779)
	over.SpeedMps = 8.0
	p.HandleLocationFix(over)

	if d := p.Snapshot().DistanceKm; d != 0 {
		t.Fatalf("implausible speed accumulated %v km", d)
	}
	if p.prevFix != nil {
		t.Fatalf("anchor should be discarded after a speed-ceiling reject")
	}
}

func TestWalkingMinSpeedResetsAnchor(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(40 * time.Second)
	// 6 m in 40 s is 0.15 m/s: too slow to be deliberate walking.
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 6), 126.9779))

	if d := p.Snapshot().DistanceKm; d != 0 {
		t.Fatalf("drift-speed fix accumulated %v km", d)
	}
	if p.prevFix != nil {
		t.Fatalf("anchor should be discarded below minimum walking speed")
	}
}

func TestAccuracyGateKeepsAnchorOnly(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	bad := fixAt(clock, 37.5663, 126.9779)
	bad.AccuracyM = 80
	p.HandleLocationFix(bad)

	if p.prevFix == nil {
		t.Fatalf("unreliable fix should still update the anchor")
	}
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))
	if d := p.Snapshot().DistanceKm; d <= 0 {
		t.Fatalf("expected accumulation from the anchored fix")
	}
}

func TestVehicleGate(t *testing.T) {
	var located int
	p, clock := newTestProcessor(t)
	p.onLocation = func(activity.LocationFix) { located++ }
	p.OnActivityTransition(activity.Vehicle)
	clock.advance(21 * time.Second)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 200), 126.9779))

	if d := p.Snapshot().DistanceKm; d != 0 {
		t.Fatalf("vehicle fixes accumulated %v km", d)
	}
	if located != 2 {
		t.Fatalf("vehicle fixes should still surface locations, got %d", located)
	}
}

func TestTimeGapRestartsFromNewFix(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(5 * time.Minute)
	resumed := fixAt(clock, latOffsetM(37.5663, 500), 126.9779)
	p.HandleLocationFix(resumed)

	if d := p.Snapshot().DistanceKm; d != 0 {
		t.Fatalf("gap fix accumulated %v km", d)
	}
	if p.prevFix == nil || p.prevFix.TimestampMs != resumed.TimestampMs {
		t.Fatalf("anchor should restart from the post-gap fix")
	}

	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 520), 126.9779))
	if d := p.Snapshot().DistanceKm; d <= 0 {
		t.Fatalf("expected accumulation after restart")
	}
}

func TestTransitionStabilizationBuffersFixes(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))
	base := p.Snapshot().DistanceKm

	p.OnActivityTransition(activity.Running)
	for i := 0; i < 5; i++ {
		clock.advance(3 * time.Second)
		p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 40+float64(i)*20), 126.9779))
	}

	if d := p.Snapshot().DistanceKm; d != base {
		t.Fatalf("fixes inside the stabilization window accumulated: %v -> %v", base, d)
	}
	if n := len(p.transitionBuf); n != transitionBufferCap {
		t.Fatalf("expected bounded buffer of %d, got %d", transitionBufferCap, n)
	}
}

func TestMonotonicTotals(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	lat := 37.5663
	var prev activity.Snapshot
	for i := 0; i < 30; i++ {
		p.HandleLocationFix(fixAt(clock, lat, 126.9779))
		clock.advance(15 * time.Second)
		lat = latOffsetM(lat, 20)

		snap := p.Snapshot()
		if snap.DistanceKm < prev.DistanceKm || snap.Steps < prev.Steps ||
			snap.CaloriesKcal < prev.CaloriesKcal || snap.AltitudeGainM < prev.AltitudeGainM {
			t.Fatalf("totals decreased at step %d: %+v -> %+v", i, prev, snap)
		}
		prev = snap
	}
	if prev.DistanceKm <= 0 {
		t.Fatalf("expected distance to accrue")
	}
}

func TestStrideStepEstimateWithoutSensor(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 21), 126.9779))

	snap := p.Snapshot()
	want := int64(snap.DistanceKm * 1000 / 0.7)
	if snap.Steps != want {
		t.Fatalf("expected %d stride-estimated steps, got %d", want, snap.Steps)
	}
}

func TestStepBaselineAndRebootHandling(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.OnActivityTransition(activity.Walking)

	p.OnStepSample(1000)
	if s := p.Snapshot().Steps; s != 0 {
		t.Fatalf("first sample seeds baseline, got %d steps", s)
	}
	p.OnStepSample(1500)
	if s := p.Snapshot().Steps; s != 500 {
		t.Fatalf("expected 500 steps, got %d", s)
	}
	// Device rebooted: counter restarts below the baseline.
	p.OnStepSample(100)
	if s := p.Snapshot().Steps; s != 500 {
		t.Fatalf("reboot must not change steps, got %d", s)
	}
	p.OnStepSample(200)
	if s := p.Snapshot().Steps; s != 600 {
		t.Fatalf("expected 600 steps after reboot, got %d", s)
	}
}

func TestVehicleIgnoresStepSamples(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.OnStepSample(1000)
	p.OnStepSample(1200)
	p.OnActivityTransition(activity.Vehicle)
	p.OnStepSample(5000)
	if s := p.Snapshot().Steps; s != 200 {
		t.Fatalf("vehicle step samples must be ignored, got %d", s)
	}
}

func TestVehicleToWalkingClearsReferenceFrames(t *testing.T) {
	p, clock := newTestProcessor(t)
	p.OnActivityTransition(activity.Vehicle)
	clock.advance(21 * time.Second)
	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))

	// Fill some filter history while riding.
	for i := 0; i < 3; i++ {
		p.filter.Observe(1013.25, clock.ms(), false)
		clock.advance(time.Second)
	}
	if p.filter.HistoryLen() == 0 {
		t.Fatalf("setup: expected filter history")
	}

	p.OnActivityTransition(activity.Walking)
	if p.filter.HistoryLen() != 0 {
		t.Fatalf("filter history must be cleared on vehicle-to-walking")
	}
	if p.prevFix != nil {
		t.Fatalf("location anchor must be cleared on vehicle-to-walking")
	}
}

func TestStillTransitionZeroesSpeedAndForcesEmit(t *testing.T) {
	var emitted []activity.Snapshot
	p, clock := newTestProcessor(t, WithStatusSink(func(s activity.Snapshot) {
		emitted = append(emitted, s)
	}))
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))

	before := len(emitted)
	p.OnActivityTransition(activity.Still)
	if len(emitted) != before+1 {
		t.Fatalf("expected a forced emission on STILL")
	}
	last := emitted[len(emitted)-1]
	if last.SpeedMps != 0 {
		t.Fatalf("expected zero speed in STILL snapshot, got %v", last.SpeedMps)
	}
}

func TestStatusEmissionThrottled(t *testing.T) {
	var emitted int
	p, clock := newTestProcessor(t, WithStatusSink(func(activity.Snapshot) { emitted++ }))
	startWalking(p, clock)

	lat := 37.5663
	p.HandleLocationFix(fixAt(clock, lat, 126.9779))
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		lat = latOffsetM(lat, 6)
		p.HandleLocationFix(fixAt(clock, lat, 126.9779))
	}
	// Six fixes inside five seconds: the 3 s throttle allows at most two.
	if emitted > 2 {
		t.Fatalf("expected throttled emissions, got %d", emitted)
	}
}

func TestBaselineAbsorbedIntoSnapshot(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.SetBaseline(activity.DailyRecord{
		UserID: "user-1", Date: "2025-05-10",
		Steps: 3000, DistanceKm: 2.5, CaloriesKcal: 120, AltitudeGainM: 30,
	})

	snap := p.Snapshot()
	if snap.Steps != 3000 || snap.DistanceKm != 2.5 {
		t.Fatalf("baseline not absorbed: %+v", snap)
	}
	p.OnStepSample(100)
	p.OnStepSample(150)
	if s := p.Snapshot().Steps; s != 3050 {
		t.Fatalf("expected baseline+session steps, got %d", s)
	}
}

func TestPendingDeltaAndCommit(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))

	d := p.PendingDelta()
	if d.IsZero() {
		t.Fatalf("expected a pending delta")
	}
	p.CommitSync(d)

	if d2 := p.PendingDelta(); !d2.IsZero() {
		t.Fatalf("expected zero delta after commit, got %+v", d2)
	}
}

func TestResetZeroesEverything(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)
	p.SetBaseline(activity.DailyRecord{Steps: 3000, DistanceKm: 2.5})
	p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
	clock.advance(15 * time.Second)
	p.HandleLocationFix(fixAt(clock, latOffsetM(37.5663, 20), 126.9779))

	p.Reset()
	snap := p.Snapshot()
	if snap.Steps != 0 || snap.DistanceKm != 0 || snap.CaloriesKcal != 0 || snap.AltitudeGainM != 0 {
		t.Fatalf("reset left totals: %+v", snap)
	}
	if !p.PendingDelta().IsZero() {
		t.Fatalf("reset left a pending delta")
	}
	if p.filter.HistoryLen() != 0 {
		t.Fatalf("reset left filter history")
	}
}

func TestDateChangeDetection(t *testing.T) {
	p, clock := newTestProcessor(t)
	if p.DateChanged(clock.now()) {
		t.Fatalf("same day should not report change")
	}
	tomorrow := clock.now().Add(24 * time.Hour)
	if !p.DateChanged(tomorrow) {
		t.Fatalf("next day should report change")
	}

	p.RollOver(activity.DateKey(tomorrow))
	if p.Date() != activity.DateKey(tomorrow) {
		t.Fatalf("rollover did not rebind the date")
	}
	if s := p.Snapshot(); s.DistanceKm != 0 || s.Steps != 0 {
		t.Fatalf("rollover left totals: %+v", s)
	}
}

func TestAltitudeAccumulatesOnSustainedClimb(t *testing.T) {
	p, clock := newTestProcessor(t)
	startWalking(p, clock)

	lat := 37.5663
	pressure := 1013.25
	p.OnPressureSample(pressure, clock.ms())
	p.HandleLocationFix(fixAt(clock, lat, 126.9779))

	for i := 0; i < 12; i++ {
		clock.advance(15 * time.Second)
		lat = latOffsetM(lat, 20)
		pressure -= 0.5
		p.OnPressureSample(pressure, clock.ms())
		p.HandleLocationFix(fixAt(clock, lat, 126.9779))
	}

	if gain := p.Snapshot().AltitudeGainM; gain <= 0 {
		t.Fatalf("sustained pressure drop while walking should register ascent, got %v", gain)
	}
}

func TestSlowStatusSinkDoesNotBlockReaders(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	sink := func(activity.Snapshot) {
		close(entered)
		<-release
	}

	p, clock := newTestProcessor(t, WithStatusSink(sink))
	startWalking(p, clock)

	// A transition to STILL forces an emission into the blocked sink.
	emitDone := make(chan struct{})
	go func() {
		p.OnActivityTransition(activity.Still)
		close(emitDone)
	}()
	<-entered

	// The sink is stalled, but the accumulator lock must be free.
	snapDone := make(chan activity.Snapshot, 1)
	go func() { snapDone <- p.Snapshot() }()

	select {
	case snap := <-snapDone:
		if snap.Motion != activity.Still {
			t.Fatalf("expected STILL snapshot, got %s", snap.Motion)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Snapshot blocked while the status sink was stalled")
	}

	close(release)
	<-emitDone
}

func TestSlowLocationSinkDoesNotBlockFixes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sink := func(activity.LocationFix) {
		once.Do(func() { close(entered) })
		<-release
	}

	p, clock := newTestProcessor(t, WithLocationSink(sink))
	startWalking(p, clock)

	fixDone := make(chan struct{})
	go func() {
		p.HandleLocationFix(fixAt(clock, 37.5663, 126.9779))
		close(fixDone)
	}()
	<-entered

	deltaDone := make(chan activity.Delta, 1)
	go func() { deltaDone <- p.PendingDelta() }()

	select {
	case <-deltaDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("PendingDelta blocked while the location sink was stalled")
	}

	close(release)
	<-fixDone
}
