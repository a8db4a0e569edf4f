package supervisor

import (
	"time"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
)

// Accuracy is the location-request power profile asked of the platform.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
)

// Cadence describes the sensor subscriptions the platform layer should hold
// right now. Applying the same cadence twice is a no-op by comparison.
type Cadence struct {
	LocationEnabled  bool
	LocationInterval time.Duration
	Accuracy         Accuracy
	PressureEnabled  bool
	StepsEnabled     bool
}

// cadenceFor derives the sampling plan from the motion state. Still mode
// stretches intervals further and drops the barometer to save power.
func cadenceFor(motion activity.MotionState, stillMode bool) Cadence {
	if stillMode {
		return Cadence{
			LocationEnabled:  true,
			LocationInterval: 5 * time.Minute,
			Accuracy:         AccuracyBalanced,
			PressureEnabled:  false,
			StepsEnabled:     true,
		}
	}

	switch motion {
	case activity.Running:
		return Cadence{
			LocationEnabled:  true,
			LocationInterval: 15 * time.Second,
			Accuracy:         AccuracyHigh,
			PressureEnabled:  true,
			StepsEnabled:     true,
		}
	case activity.Walking:
		return Cadence{
			LocationEnabled:  true,
			LocationInterval: 20 * time.Second,
			Accuracy:         AccuracyHigh,
			PressureEnabled:  true,
			StepsEnabled:     true,
		}
	case activity.Still:
		return Cadence{
			LocationEnabled:  true,
			LocationInterval: 2 * time.Minute,
			Accuracy:         AccuracyBalanced,
			PressureEnabled:  true,
			StepsEnabled:     true,
		}
	case activity.Vehicle:
		// Riding: location updates suspended, sensors unregistered.
		return Cadence{}
	default:
		return Cadence{
			LocationEnabled:  true,
			LocationInterval: time.Minute,
			Accuracy:         AccuracyBalanced,
			PressureEnabled:  true,
			StepsEnabled:     true,
		}
	}
}
