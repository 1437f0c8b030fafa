// Package privacy implements small-cell suppression and deterministic weekly
// jitter for aggregate counts. Nothing in this package touches the store; a
// Masker is a pure function of its configuration and the wall clock week.
package privacy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Masker applies jitter followed by the mask floor to counts before they leave
// the engine. Threshold 0 disables masking; JitterEnabled false (used when
// precomputing population baselines) applies masking only.
//
// The jitter offset is a deterministic function of (ISO year, ISO week, label,
// salt): stable for every query in the same calendar week, different across
// weeks and across series labels. Two slightly different filters therefore
// cannot be differenced to recover an exact underlying count.
type Masker struct {
	Threshold     int
	JitterEnabled bool
	JitterMin     int
	JitterMax     int

	salt string
	now  func() time.Time
}

// Option configures a Masker.
type Option func(*Masker)

// WithClock overrides the wall clock, pinning the ISO week in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Masker) { m.now = now }
}

// WithJitterRange sets the symmetric offset bounds (inclusive).
func WithJitterRange(min, max int) Option {
	return func(m *Masker) { m.JitterMin, m.JitterMax = min, max }
}

// New builds a Masker. The salt must be secret: with a known salt the weekly
// offsets are reproducible by anyone.
func New(threshold int, jitterEnabled bool, salt string, opts ...Option) *Masker {
	m := &Masker{
		Threshold:     threshold,
		JitterEnabled: jitterEnabled,
		JitterMin:     -2,
		JitterMax:     2,
		salt:          salt,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithoutJitter returns a copy that masks only. Used for the precomputed
// whole-population and null baselines, which must be stable across weeks.
func (m *Masker) WithoutJitter() *Masker {
	c := *m
	c.JitterEnabled = false
	return &c
}

// Mask applies the small-cell floor: any count at or below the threshold is
// reported as 0. Negative inputs (possible after jitter) also floor to 0, so
// the displayed value is always a well-defined non-negative integer.
func (m *Masker) Mask(n int) int {
	if n < 0 {
		return 0
	}
	if m.Threshold > 0 && n <= m.Threshold {
		return 0
	}
	return n
}

// Offset returns this week's jitter offset for the given series label.
func (m *Masker) Offset(label string) int {
	span := m.JitterMax - m.JitterMin + 1
	if span <= 1 {
		return m.JitterMin
	}
	year, week := m.now().UTC().ISOWeek()
	sum := sha256.Sum256(fmt.Appendf(nil, "%d-W%02d|%s|%s", year, week, label, m.salt))
	return m.JitterMin + int(binary.BigEndian.Uint64(sum[:8])%uint64(span))
}

// MaskAndJitter jitters the count (when enabled) and then re-applies the mask
// floor. The mask runs after jitter on purpose: a legitimately large group
// jittered down to the threshold is suppressed rather than revealed.
func (m *Masker) MaskAndJitter(n int, label string) int {
	if m.JitterEnabled {
		n += m.Offset(label)
	}
	return m.Mask(n)
}
