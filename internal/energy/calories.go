package energy

import "github.com/coconiss/WalkTracker-sub000/internal/activity"

// MET values from the compendium of physical activities, keyed by motion
// class and speed band.
func metFor(motion activity.MotionState, speedMps float64) float64 {
	switch motion {
	case activity.Walking:
		switch {
		case speedMps < 0.5:
			return 1.0
		case speedMps < 0.9:
			return 2.0
		case speedMps < 1.3:
			return 3.5
		case speedMps < 1.8:
			return 5.0
		default:
			return 6.3
		}
	case activity.Running:
		switch {
		case speedMps < 2.2:
			return 8.0
		case speedMps < 3.0:
			return 11.0
		case speedMps < 4.5:
			return 14.5
		default:
			return 19.0
		}
	default:
		// STILL, VEHICLE, UNKNOWN all burn at resting rate.
		return 1.0
	}
}

// Kcal returns the energy expended over durationSec at the given speed.
// kcal/min = MET * 3.5 * weightKg / 200.
func Kcal(weightKg, speedMps, durationSec float64, motion activity.MotionState) float64 {
	if durationSec <= 0 || weightKg <= 0 {
		return 0
	}
	met := metFor(motion, speedMps)
	return (met * 3.5 * weightKg / 200) * (durationSec / 60)
}

// KcalWithGrade is the elevation-adjusted variant. The grade bonus is
// currently disabled (gradeFactor fixed at 1); kept as the extension point
// for slope-aware estimates.
func KcalWithGrade(weightKg, speedMps, durationSec, altitudeGainM float64, motion activity.MotionState) float64 {
	const gradeFactor = 1.0
	_ = altitudeGainM
	return Kcal(weightKg, speedMps, durationSec, motion) * gradeFactor
}
