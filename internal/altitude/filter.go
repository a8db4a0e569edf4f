package altitude

import "math"

const (
	windowSize = 5

	minPressureHPa = 950.0
	maxPressureHPa = 1050.0

	// Window-average swings below this are barometer noise, not terrain.
	minPressureChangeHPa = 1.0

	// Ascent below this never counts; anything slower is GPS/weather drift.
	minAscentM = 3.0

	// Nobody climbs faster than this on foot. Elevators and cabin
	// pressurization do.
	maxClimbRateMps = 3.0

	seaLevelHPa = 1013.25
)

// Filter smooths raw barometric pressure into validated altitude-gain
// increments. Descents and stationary drift never register; only net ascent
// past the noise thresholds does.
type Filter struct {
	window         []float64
	lastValidAltM  float64
	lastValidTimeMs int64
	seeded         bool
}

func NewFilter() *Filter {
	return &Filter{window: make([]float64, 0, windowSize)}
}

// Observe feeds one pressure sample and returns the validated altitude gain
// in meters (zero unless a plausible ascent is confirmed).
func (f *Filter) Observe(pressureHPa float64, timestampMs int64, isMoving bool) float64 {
	if pressureHPa < minPressureHPa || pressureHPa > maxPressureHPa {
		return 0
	}

	f.window = append(f.window, pressureHPa)
	if len(f.window) > windowSize {
		f.window = f.window[1:]
	}
	if len(f.window) < windowSize {
		// Warm-up: no reference frame yet.
		return 0
	}

	filtered := mean(f.window)
	altM := PressureToAltitudeM(filtered)

	if !f.seeded {
		f.seeded = true
		f.lastValidAltM = altM
		f.lastValidTimeMs = timestampMs
		return 0
	}

	if math.Abs(filtered-f.window[0]) < minPressureChangeHPa {
		return 0
	}

	gainM := altM - f.lastValidAltM
	if !isMoving || gainM < minAscentM {
		return 0
	}

	elapsedSec := float64(timestampMs-f.lastValidTimeMs) / 1000
	if elapsedSec <= 0 || gainM/elapsedSec > maxClimbRateMps {
		// Sensor glitch; keep the old reference so a real climb can
		// still be confirmed later.
		return 0
	}

	f.lastValidAltM = altM
	f.lastValidTimeMs = timestampMs
	return gainM
}

// Reset clears all state. Called when the reference frame becomes invalid,
// e.g. on a vehicle-to-walking transition.
func (f *Filter) Reset() {
	f.window = f.window[:0]
	f.lastValidAltM = 0
	f.lastValidTimeMs = 0
	f.seeded = false
}

// HistoryLen returns the number of buffered pressure samples.
func (f *Filter) HistoryLen() int {
	return len(f.window)
}

// PressureToAltitudeM converts pressure to altitude via the barometric
// formula, referenced to the standard sea-level atmosphere.
func PressureToAltitudeM(pressureHPa float64) float64 {
	return 44330 * (1 - math.Pow(pressureHPa/seaLevelHPa, 1/5.255))
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
