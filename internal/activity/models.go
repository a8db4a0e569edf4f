package activity

import "time"

// MotionState is the coarse activity class reported by the device's
// activity-recognition layer.
type MotionState string

const (
	Walking MotionState = "WALKING"
	Running MotionState = "RUNNING"
	Still   MotionState = "STILL"
	Vehicle MotionState = "VEHICLE"
	Unknown MotionState = "UNKNOWN"
)

// OnFoot reports whether the state accumulates steps and distance.
func (m MotionState) OnFoot() bool {
	return m == Walking || m == Running
}

// RoutePoint is a single accepted location sample on the day's route.
type RoutePoint struct {
	Lat        float64     `json:"lat"`
	Lng        float64     `json:"lng"`
	TimestampMs int64      `json:"timestamp_ms"`
	Motion     MotionState `json:"motion"`
	SpeedMps   float64     `json:"speed_mps"`
}

// DailyRecord is the persisted activity total for one user on one calendar
// day. Exactly one record exists per (user, date); the identity key is
// userId + "_" + date.
type DailyRecord struct {
	UserID        string       `json:"user_id"`
	Date          string       `json:"date"`
	Steps         int64        `json:"steps"`
	DistanceKm    float64      `json:"distance_km"`
	CaloriesKcal  float64      `json:"calories_kcal"`
	AltitudeGainM float64      `json:"altitude_gain_m"`
	ActiveMinutes int          `json:"active_minutes"`
	RoutePoints   []RoutePoint `json:"route_points"`
	UpdatedAt     time.Time    `json:"updated_at"`
	IsSynced      bool         `json:"is_synced"`
}

// ID returns the composite identity key for the record.
func (r DailyRecord) ID() string {
	return RecordID(r.UserID, r.Date)
}

// IsEmpty reports whether the record carries no recorded motion at all.
func (r DailyRecord) IsEmpty() bool {
	return r.Steps == 0 && r.DistanceKm == 0 && r.CaloriesKcal == 0 &&
		r.AltitudeGainM == 0 && len(r.RoutePoints) == 0
}

func RecordID(userID, date string) string {
	return userID + "_" + date
}

// DateKey formats t as the local calendar-day key used throughout the store.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Snapshot is the live status emitted to consumers (stream, notification).
// Totals include the persisted start-of-day baseline.
type Snapshot struct {
	UserID        string      `json:"user_id"`
	Date          string      `json:"date"`
	Steps         int64       `json:"steps"`
	DistanceKm    float64     `json:"distance_km"`
	CaloriesKcal  float64     `json:"calories_kcal"`
	AltitudeGainM float64     `json:"altitude_gain_m"`
	SpeedMps      float64     `json:"speed_mps"`
	Motion        MotionState `json:"motion"`
}

// Delta is an unsynced increment against the remote record. Numeric fields
// are added server-side; route points are appended.
type Delta struct {
	Steps         int64
	DistanceKm    float64
	CaloriesKcal  float64
	AltitudeGainM float64
	RoutePoints   []RoutePoint
}

// IsZero reports whether the delta carries nothing worth a network call.
// Calories and altitude ride along with steps/distance; on their own they
// never justify a write.
func (d Delta) IsZero() bool {
	return d.Steps == 0 && d.DistanceKm == 0 && len(d.RoutePoints) == 0
}

// Add folds another delta in (used when compounding the offline backlog).
func (d Delta) Add(other Delta) Delta {
	return Delta{
		Steps:         d.Steps + other.Steps,
		DistanceKm:    d.DistanceKm + other.DistanceKm,
		CaloriesKcal:  d.CaloriesKcal + other.CaloriesKcal,
		AltitudeGainM: d.AltitudeGainM + other.AltitudeGainM,
		RoutePoints:   append(append([]RoutePoint{}, d.RoutePoints...), other.RoutePoints...),
	}
}

// Profile is the read-only user physiology used by the calorie model and
// the stride-based step estimate.
type Profile struct {
	WeightKg float64 `json:"weight_kg"`
	StrideM  float64 `json:"stride_m"`
}

// DefaultProfile is used when no profile is stored for a user.
var DefaultProfile = Profile{WeightKg: 65, StrideM: 0.7}

// LocationFix is a raw location sample from the platform layer. Speed and
// Altitude may be absent (negative means not reported).
type LocationFix struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	AccuracyM   float64 `json:"accuracy_m"`
	SpeedMps    float64 `json:"speed_mps"`
	AltitudeM   float64 `json:"altitude_m"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Time returns the fix timestamp as wall-clock time.
func (f LocationFix) Time() time.Time {
	return time.UnixMilli(f.TimestampMs)
}
