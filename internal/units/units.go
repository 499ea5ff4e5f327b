// Package units converts monetary amounts between minor-unit representations.
// The canonical storage and comparison representation is the minor unit,
// 1/10000 of a major currency unit, so all arithmetic stays integral.
package units

// Unit identifies the representation an amount is expressed in.
type Unit string

const (
	// MinorUnit is the canonical representation (identity conversion).
	MinorUnit Unit = "MINOR_UNIT"

	// SubMajorUnit is 1/100 of a major unit (e.g. cents).
	SubMajorUnit Unit = "SUB_MAJOR_UNIT"

	// MajorUnit is a whole currency unit.
	MajorUnit Unit = "MAJOR_UNIT"
)

// Conversion factors into minor units.
const (
	subMajorFactor int64 = 100
	majorFactor    int64 = 10000
)

// minorPerMajor is the scale applied when converting back to major units.
const minorPerMajor float64 = 10000.0

// ToMinorUnit converts an amount expressed in the given unit into minor
// units. Unknown units convert as identity.
func ToMinorUnit(amount int64, unit Unit) int64 {
	switch unit {
	case MajorUnit:
		return amount * majorFactor
	case SubMajorUnit:
		return amount * subMajorFactor
	default:
		return amount
	}
}

// ToMajorUnit converts a minor-unit amount into major currency units.
// A zero amount returns 0.0: absent aggregates (no deposits found) are a
// normal outcome, not an error.
func ToMajorUnit(minor int64) float64 {
	if minor == 0 {
		return 0.0
	}
	return float64(minor) / minorPerMajor
}
