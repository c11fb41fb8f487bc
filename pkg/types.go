package pkg

import (
	"errors"
	"time"
)

// Mode represents the sampling accuracy/frequency profile currently in effect
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
)

// AccuracyTier represents the requested platform location accuracy
type AccuracyTier string

const (
	AccuracyHigh     AccuracyTier = "high"
	AccuracyBalanced AccuracyTier = "balanced"
)

// LocationSample represents a single position fix. Immutable once created.
type LocationSample struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy,omitempty"`  // meters, 0 = unknown
	SpeedKmh    float64 `json:"speed_kmh,omitempty"` // 0 = unknown
	TimestampMs int64   `json:"timestamp_ms"`
	Mode        Mode    `json:"mode"`
}

// Time returns the sample timestamp as a time.Time in the local zone.
func (s LocationSample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// DayKey returns the device-local calendar day the sample belongs to.
func (s LocationSample) DayKey() string {
	return DayKey(s.Time())
}

// TrackingConfig represents a per-mode sampling profile
type TrackingConfig struct {
	Accuracy        AccuracyTier  `json:"accuracy"`
	TimeInterval    time.Duration `json:"time_interval"`
	DistanceFilterM float64       `json:"distance_filter_m"`
}

// The two fixed sampling profiles. Selected by the mode controller.
var (
	ForegroundConfig = TrackingConfig{
		Accuracy:        AccuracyHigh,
		TimeInterval:    30 * time.Second,
		DistanceFilterM: 10,
	}
	BackgroundConfig = TrackingConfig{
		Accuracy:        AccuracyBalanced,
		TimeInterval:    600 * time.Second,
		DistanceFilterM: 50,
	}
)

// ConfigForMode returns the fixed tracking profile for a mode.
func ConfigForMode(mode Mode) TrackingConfig {
	if mode == ModeBackground {
		return BackgroundConfig
	}
	return ForegroundConfig
}

// UserContext identifies the signed-in user. Owned by the host session
// layer, read-only to the location services.
type UserContext struct {
	UserID    string `json:"user_id"`
	AuthToken string `json:"auth_token"`
}

// Valid reports whether the context can back a server interaction.
func (u *UserContext) Valid() bool {
	return u != nil && u.UserID != ""
}

// UserProvider returns the current user context, nil when signed out.
type UserProvider func() *UserContext

// DayKeyLayout is the calendar-day identifier format in device-local time.
const DayKeyLayout = "2006-01-02"

// DayKey returns the calendar-day identifier for t in local time.
func DayKey(t time.Time) string {
	return t.Local().Format(DayKeyLayout)
}

// Error taxonomy. No error in this subsystem is fatal to the host; every
// failure degrades to "try again next cycle".
var (
	// ErrPermissionDenied is returned when the platform refuses the
	// location or notification capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNetworkFailure wraps failed or timed-out backend requests.
	ErrNetworkFailure = errors.New("network failure")

	// ErrPersistenceFailure wraps local storage read/write errors.
	ErrPersistenceFailure = errors.New("persistence failure")
)
