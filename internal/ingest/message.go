package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/coconiss/WalkTracker-sub000/internal/activity"
)

// EventType discriminates the sensor event envelope.
type EventType string

const (
	EventStep       EventType = "step"
	EventPressure   EventType = "pressure"
	EventLocation   EventType = "location"
	EventTransition EventType = "transition"
)

// SensorEvent is the wire format for device sensor samples. Messages are
// keyed by UserID so one user's samples stay on one partition, in order.
type SensorEvent struct {
	UserID string    `json:"user_id"`
	Type   EventType `json:"type"`

	// EventStep
	TotalSinceBoot int64 `json:"total_since_boot,omitempty"`

	// EventPressure
	PressureHPa float64 `json:"pressure_hpa,omitempty"`
	TimestampMs int64   `json:"timestamp_ms,omitempty"`

	// EventLocation
	Fix *activity.LocationFix `json:"fix,omitempty"`

	// EventTransition
	Motion activity.MotionState `json:"motion,omitempty"`
}

// Validate checks the envelope carries the payload its type requires.
func (e *SensorEvent) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("missing user_id")
	}
	switch e.Type {
	case EventStep:
		if e.TotalSinceBoot < 0 {
			return fmt.Errorf("negative step counter")
		}
	case EventPressure:
		if e.PressureHPa <= 0 {
			return fmt.Errorf("missing pressure_hpa")
		}
	case EventLocation:
		if e.Fix == nil {
			return fmt.Errorf("missing fix")
		}
	case EventTransition:
		switch e.Motion {
		case activity.Walking, activity.Running, activity.Still, activity.Vehicle, activity.Unknown:
		default:
			return fmt.Errorf("unknown motion %q", e.Motion)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func EncodeSensorEvent(e *SensorEvent) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeSensorEvent(data []byte) (*SensorEvent, error) {
	var e SensorEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
