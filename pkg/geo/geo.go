// Package geo provides great-circle distance and motion helpers
package geo

import (
	"math"
	"time"

	"github.com/geoquest/geoquest/pkg"
)

const (
	// earthRadiusM is the mean Earth radius used for haversine distances
	earthRadiusM = 6371000.0

	// MovingThresholdKmh is the speed above which a sample counts as moving
	MovingThresholdKmh = 2.0
)

// DistanceM returns the haversine distance in meters between two coordinates.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLatRad := (lat2 - lat1) * math.Pi / 180
	deltaLonRad := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLatRad/2)*math.Sin(deltaLatRad/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLonRad/2)*math.Sin(deltaLonRad/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// SampleDistanceM returns the haversine distance in meters between two samples.
func SampleDistanceM(a, b pkg.LocationSample) float64 {
	return DistanceM(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// DeriveSpeedKmh computes speed in km/h from the displacement between two
// consecutive samples. Returns 0 when the elapsed time is not positive.
func DeriveSpeedKmh(prev, cur pkg.LocationSample) float64 {
	elapsed := time.Duration(cur.TimestampMs-prev.TimestampMs) * time.Millisecond
	if elapsed <= 0 {
		return 0
	}
	meters := SampleDistanceM(prev, cur)
	return meters / elapsed.Seconds() * 3.6
}

// IsMoving reports whether a speed in km/h counts as a moving motion state.
func IsMoving(speedKmh float64) bool {
	return speedKmh > MovingThresholdKmh
}
