// Package units provides shared constants and conversions for area and
// wind-speed units.
package units

import "math"

// Area unit constants
const (
	SquareMeters     = "m2"
	Hectares         = "ha"
	SquareKilometers = "km2"
	Acres            = "acres"
)

// ValidAreaUnits contains all valid area unit values
var ValidAreaUnits = []string{SquareMeters, Hectares, SquareKilometers, Acres}

// IsValidArea checks if the given unit is a known area unit
func IsValidArea(unit string) bool {
	for _, u := range ValidAreaUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidAreaUnitsString returns a comma-separated string of valid units for error messages
func GetValidAreaUnitsString() string {
	return "m2, ha, km2, acres"
}

// ConvertArea converts an area in square meters to the target units.
// Unknown units return square meters unchanged.
func ConvertArea(m2 float64, targetUnits string) float64 {
	switch targetUnits {
	case Hectares:
		return m2 / 1e4
	case SquareKilometers:
		return m2 / 1e6
	case Acres:
		return m2 / 4046.8564224
	default:
		return m2
	}
}

// MPSToKMH converts a speed in meters per second to kilometres per hour.
func MPSToKMH(mps float64) float64 {
	return mps * 3.6
}

// WindSpeedKMH returns the magnitude of a (u,v) wind vector given in m/s,
// in km/h.
func WindSpeedKMH(u, v float64) float64 {
	return MPSToKMH(math.Hypot(u, v))
}
