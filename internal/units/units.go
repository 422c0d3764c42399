// Package units provides shared constants and conversions for angles and distances
package units

import "math"

// Angle unit constants
const (
	Radians = "rad"
	Degrees = "deg"
)

// ValidAngleUnits contains all valid angle unit values
var ValidAngleUnits = []string{Radians, Degrees}

// IsValidAngleUnit checks if the given unit is in the list of valid angle units
func IsValidAngleUnit(unit string) bool {
	for _, validUnit := range ValidAngleUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// RadToDeg converts an angle from radians to degrees
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// DegToRad converts an angle from degrees to radians
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// ConvertAngle converts an angle from radians to the target units
// Internal computation uses radians throughout
func ConvertAngle(angleRad float64, targetUnits string) float64 {
	switch targetUnits {
	case Degrees:
		return RadToDeg(angleRad)
	case Radians:
		return angleRad
	default:
		return angleRad // default to radians if unknown unit
	}
}

// MetersToKilometers converts a distance in meters to kilometers
func MetersToKilometers(m float64) float64 {
	return m / 1000
}
