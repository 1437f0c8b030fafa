// Package histogram bins case ages into evenly spaced buckets and applies the
// privacy masker to every bucket before the counts leave the engine.
package histogram

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cohortql/cohort-engine/pkg/privacy"
	"github.com/cohortql/cohort-engine/pkg/ranges"
)

// Counts bins values into ceil((high-low)/step) buckets of width step starting
// at low. Values below low are dropped. When overflowTop is set, any value at
// or beyond the last regular bucket is folded into the final bucket instead of
// being dropped:
//
//	Counts([82 85 90 91 70 87 45], 0, 100, 10, true) = [0 0 0 0 1 0 0 1 3 2]
func Counts(values []float64, low, high, step float64, overflowTop bool) []int {
	if step <= 0 || high <= low {
		return nil
	}
	bins := int(math.Ceil((high - low) / step))
	out := make([]int, bins)
	for _, v := range values {
		idx := int(math.Floor((v - low) / step))
		if idx < 0 {
			continue
		}
		if idx >= bins {
			if !overflowTop {
				continue
			}
			idx = bins - 1
		}
		out[idx]++
	}
	return out
}

// AgeRow is one case as seen by the aggregator: its id, the value of the
// partition field (e.g. sex), and the age under the chosen variant. A nil age
// drops the row.
type AgeRow struct {
	CaseID   int
	Category string
	Age      *int
}

// CategoryHistogram is the censored histogram for one partition of the
// population. ExcludedCases lists the case ids whose bucket had a nonzero raw
// count but masked to zero; callers must exclude those ids from companion
// statistics so two charts about the same cohort cannot be differenced.
type CategoryHistogram struct {
	Label         string
	Counts        []int
	ExcludedCases []int
}

// Censored partitions rows by category, bins each partition's ages per the
// range, and masks every bucket. The masker label is the category label plus
// the bucket index, so each cell jitters independently. Partitions are emitted
// in sorted label order for stable output.
func Censored(rows []AgeRow, r ranges.Range, masker *privacy.Masker) []CategoryHistogram {
	bins := r.Buckets()
	if bins <= 0 {
		return nil
	}

	groups := make(map[string][]AgeRow)
	for _, row := range rows {
		if row.Age == nil {
			continue
		}
		label := capitalize(row.Category)
		groups[label] = append(groups[label], row)
	}
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]CategoryHistogram, 0, len(labels))
	for _, label := range labels {
		group := groups[label]
		raw := make([]int, bins)
		binOf := make(map[int]int, len(group)) // case id -> bucket
		for _, row := range group {
			age := float64(*row.Age)
			if age < r.Min {
				continue
			}
			idx := int(math.Floor((age - r.Min) / r.Step))
			if idx >= bins {
				idx = bins - 1
			}
			raw[idx]++
			binOf[row.CaseID] = idx
		}

		masked := make([]int, bins)
		maskedBins := make(map[int]bool)
		for i, n := range raw {
			masked[i] = masker.MaskAndJitter(n, fmt.Sprintf("%s%d", label, i))
			if n > 0 && masked[i] == 0 {
				maskedBins[i] = true
			}
		}

		var excluded []int
		for caseID, idx := range binOf {
			if maskedBins[idx] {
				excluded = append(excluded, caseID)
			}
		}
		sort.Ints(excluded)

		out = append(out, CategoryHistogram{Label: label, Counts: masked, ExcludedCases: excluded})
	}
	return out
}

// Total sums the masked counts across all partitions: the number of subjects
// the censored view retains.
func Total(hists []CategoryHistogram) int {
	total := 0
	for _, h := range hists {
		for _, n := range h.Counts {
			total += n
		}
	}
	return total
}

// BucketLabels renders display labels for the range's buckets; the top bucket
// absorbs everything at or above the maximum ("100+").
func BucketLabels(r ranges.Range) []string {
	bins := r.Buckets()
	labels := make([]string, 0, bins)
	for i := 0; i < bins; i++ {
		lo := r.Min + float64(i)*r.Step
		if i == bins-1 {
			labels = append(labels, fmt.Sprintf("%s+", formatBound(lo)))
			continue
		}
		hi := lo + r.Step - 1
		if r.Step <= 1 {
			labels = append(labels, formatBound(lo))
			continue
		}
		labels = append(labels, fmt.Sprintf("%s-%s", formatBound(lo), formatBound(hi)))
	}
	return labels
}

func formatBound(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
