// Outrider - Rider Safety Monitoring and Risk Detection
// Copyright 2026 Outrider Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outrider-app/outrider

package telemetry

import (
	"math"
	"time"
)

// CoordinateEpsilon is the threshold for considering coordinates effectively zero.
// DETERMINISM: A coordinate is considered "unknown" (sentinel value 0,0) if both
// latitude and longitude are within this epsilon of zero. 1e-7 degrees is about
// 1.1cm at the equator, well below GPS accuracy, but reliable for float comparison.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation returns true if the coordinates represent an unknown location.
// Uses epsilon comparison instead of direct float equality, which is unreliable
// under IEEE 754 representation.
func IsUnknownLocation(lat, lng float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lng) < CoordinateEpsilon
}

// HasValidCoordinates is the inverse of IsUnknownLocation for readability.
func HasValidCoordinates(lat, lng float64) bool {
	return !IsUnknownLocation(lat, lng)
}

// Position is a geographic fix with optional horizontal accuracy.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// AccuracyM is the reported horizontal accuracy in meters.
	// Zero means the source did not report accuracy.
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// Reading is a sensor value that may be absent. Every optional input signal
// uses this type so the missing-data policy is explicit at each use site
// instead of being an implicit zero-value guess.
type Reading struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Known returns a valid Reading carrying v.
func Known(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Unknown returns an absent Reading.
func Unknown() Reading {
	return Reading{}
}

// Or returns the reading's value, or fallback when the reading is absent.
func (r Reading) Or(fallback float64) float64 {
	if r.Valid {
		return r.Value
	}
	return fallback
}

// AccelVector is a raw 3-axis accelerometer reading.
type AccelVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm of the vector.
func (v AccelVector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DeltaMagnitude returns the Euclidean norm of the difference between v and prev.
// An abrupt free-fall or impact produces a large delta between consecutive
// readings even when the individual magnitudes are unremarkable.
func (v AccelVector) DeltaMagnitude(prev AccelVector) float64 {
	dx := v.X - prev.X
	dy := v.Y - prev.Y
	dz := v.Z - prev.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Sample is one normalized tick of fused sensor data. Samples are ephemeral:
// produced continuously, consumed by the detectors and estimators, never
// persisted raw.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	// Position is the current fix; check HasPosition before use.
	Position    Position `json:"position"`
	HasPosition bool     `json:"has_position"`

	// SpeedKmh is the instantaneous speed derived from displacement over time.
	// Absent when there is no previous fix to derive from.
	SpeedKmh Reading `json:"speed_kmh"`

	// AccelMagnitude is the magnitude of the current accelerometer vector.
	AccelMagnitude Reading `json:"accel_magnitude"`

	// AccelDelta is the norm of the delta between this and the previous raw
	// acceleration vector (the fall/impact signature input).
	AccelDelta Reading `json:"accel_delta"`

	// OrientationDelta is the absolute orientation change since the previous
	// sample, in degrees. Large sustained values indicate unstable riding.
	OrientationDelta Reading `json:"orientation_delta"`
}

// haversineKm returns the great-circle distance between two points in kilometers.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lng1Rad := lng1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lng2Rad := lng2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLng := lng2Rad - lng1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm returns the great-circle distance between two positions in kilometers.
func DistanceKm(a, b Position) float64 {
	return haversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
