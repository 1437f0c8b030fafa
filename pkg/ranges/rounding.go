package ranges

import "math"

// Rounding helpers for slider boundaries. Filters must land on round numbers
// (1990-2025 by 5s, not 1992-2027), so minimums floor and maximums ceil to the
// base.

// Round rounds x to the nearest multiple of base.
func Round(x float64, base int) int {
	return int(float64(base) * math.Round(x/float64(base)))
}

// Floor rounds x down to the nearest multiple of base.
func Floor(x float64, base int) int {
	return int(x - math.Mod(x, float64(base)))
}

// Ceil rounds x up to the nearest multiple of base.
func Ceil(x float64, base int) int {
	b := float64(base)
	return int(x + math.Mod(b-math.Mod(x, b), b))
}

// Mid floors x to the base and then, for values that were not already on a
// boundary, adds half the base back. Keeps boundary values selectable at range
// edges while interior values stay inside the bucket they came from: with base
// 5, an 8 becomes 7 (inside [5,10]) rather than 5, which the range [0,5] would
// otherwise wrongly include.
func Mid(x float64, base int) int {
	floored := Floor(x, base)
	if floored != int(x) {
		floored += base / 2
	}
	return floored
}
