// Package units provides shared angle and distance conversions for the
// steering pipeline. Geometry is computed in radians and millimetres; the
// config surface and reports use degrees and metres where that reads better.
package units

import "math"

// Angle unit constants
const (
	Radians      = "rad"
	Degrees      = "deg"
	Milliradians = "mrad"
)

// ValidAngleUnits contains all valid angle unit values.
var ValidAngleUnits = []string{Radians, Degrees, Milliradians}

// IsValidAngleUnit checks if the given unit is in the list of valid units.
func IsValidAngleUnit(unit string) bool {
	for _, validUnit := range ValidAngleUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// ConvertAngle converts an angle in radians to the target units.
// Internal state is stored in radians.
func ConvertAngle(rad float64, targetUnits string) float64 {
	switch targetUnits {
	case Degrees:
		return RadToDeg(rad)
	case Milliradians:
		return rad * 1000.0
	case Radians:
		return rad
	default:
		return rad // default to radians if unknown unit
	}
}

// MmToM converts millimetres to metres.
func MmToM(mm float64) float64 {
	return mm / 1000.0
}

// MToMm converts metres to millimetres.
func MToMm(m float64) float64 {
	return m * 1000.0
}
