// Package ranges converts the discrete numeric values of an item into a
// compact (min, max, step) bucketing scheme for filter sliders and age
// binning. The rounding policy here defines the slider boundaries end users
// see, so its refinements are deliberate and must stay stable.
package ranges

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultIdealBuckets caps how many slider stops a range may imply before the
// step is coarsened.
const DefaultIdealBuckets = 20

// ValuePoint is one value of an item as seen by the materializer: its numeric
// equivalent (nil when the display name did not parse), its display rank, and
// its value id.
type ValuePoint struct {
	Numeric *float64
	Order   int
	ID      int
}

// Range describes an evenly spaced bucketing: [Min, Max] in steps of Step.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// Buckets returns the implied bucket count, ceil((Max-Min)/Step).
func (r Range) Buckets() int {
	if r.Step == 0 {
		return 0
	}
	return int(math.Ceil((r.Max - r.Min) / r.Step))
}

// Materialize derives a Range from an item's values. It returns ok=false when
// the values do not form a coherent numeric range: fewer than two distinct
// values, any non-numeric member, or a degenerate zero step. Callers fall back
// to listing discrete values.
func Materialize(points []ValuePoint, idealBuckets int) (Range, bool) {
	if idealBuckets <= 0 {
		idealBuckets = DefaultIdealBuckets
	}

	seen := make(map[float64]struct{}, len(points))
	vals := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Numeric == nil {
			return Range{}, false
		}
		if _, dup := seen[*p.Numeric]; dup {
			continue
		}
		seen[*p.Numeric] = struct{}{}
		vals = append(vals, *p.Numeric)
	}
	if len(vals) < 2 {
		return Range{}, false
	}
	sort.Float64s(vals)

	step := math.Inf(1)
	for i := 1; i < len(vals); i++ {
		if gap := vals[i] - vals[i-1]; gap < step {
			step = gap
		}
	}
	if step <= 0 || math.IsInf(step, 1) {
		return Range{}, false
	}

	max := vals[len(vals)-1]
	if max != math.Trunc(max) {
		// Extend a fractional maximum by the minimal fractional unit so it
		// falls inside its own bucket instead of on the open edge.
		max += 0.1
	}
	r := Range{Min: vals[0], Max: max, Step: step}

	switch {
	case r.Step == 1 && r.Max-r.Min > 20:
		r = Range{Min: float64(Floor(r.Min, 5)), Max: float64(Ceil(r.Max, 5)), Step: 5}
	case approx(r.Step, 0.1):
		newStep := 0.1
		if r.Max-r.Min > 10 {
			newStep = 1
		}
		r = Range{Min: float64(Floor(r.Min, 5)), Max: float64(Ceil(r.Max, 5)), Step: newStep}
	}

	return coarsen(r, idealBuckets)
}

// coarsen widens the step (doubling-based) until the implied bucket count is
// at or below the ideal, re-aligning min and max to multiples of the new step.
func coarsen(r Range, idealBuckets int) (Range, bool) {
	ideal := float64(idealBuckets)
	if r.Step == 0 {
		return Range{}, false
	}
	if (r.Max-r.Min)/r.Step <= ideal {
		return r, true
	}

	cur := r.Step * 2
	var rounded float64
	if r.Step != math.Trunc(r.Step) {
		if cur > 1 {
			c := math.Trunc(cur)
			rounded = math.Ceil((r.Max-r.Min)/ideal/c) * c
		} else {
			// Work at an integer scale to avoid float fuzz in the ceil.
			scale := fractionScale(r.Step)
			rounded = math.Ceil((r.Max*scale-r.Min*scale)/ideal/(cur*scale)) * cur * scale / scale
		}
	} else {
		rounded = math.Ceil((r.Max-r.Min)/ideal/cur) * cur
	}
	if rounded == 0 {
		return Range{}, false
	}

	newMin := math.Ceil(r.Min/rounded) * rounded
	if newMin > r.Min {
		newMin = math.Ceil((r.Min-rounded)/rounded) * rounded
	}
	newMax := math.Ceil(r.Max/rounded) * rounded
	return Range{Min: newMin, Max: newMax, Step: rounded}, true
}

// fractionScale maps a fractional step onto the integer scale used by coarsen:
// 0.1 -> 10, 0.01 -> 20, one extra factor of ten per leading fractional zero.
func fractionScale(step float64) float64 {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac = s[i+1:]
	}
	return float64(strings.Count(frac, "0")+1) * 10
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
