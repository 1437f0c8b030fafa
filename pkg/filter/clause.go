// Package filter decodes the wire encoding of filter criteria into typed
// clauses, exactly once at the boundary. The resolver never parses strings.
//
// Wire format, one parameter per item id: a categorical clause is a
// comma-joined list of value ids ("12,14,19"); a range clause is two numeric
// endpoints joined by ".." where either side may be empty for an unbounded
// end ("60..80", "..80", "60..").
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
)

const (
	valueDelimiter = ","
	rangeDelimiter = ".."
)

// Clause is one filter criterion on a single item. Implementations are
// Categorical and NumericRange; the set is closed.
type Clause interface {
	ItemID() int
	canonical() string
}

// Categorical matches cases having any of the listed value ids for the item.
type Categorical struct {
	Item     int
	ValueIDs []int
}

func (c Categorical) ItemID() int { return c.Item }

func (c Categorical) canonical() string {
	ids := append([]int(nil), c.ValueIDs...)
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("%d:%s", c.Item, strings.Join(parts, valueDelimiter))
}

// NumericRange matches cases whose value for the item has a numeric
// equivalent within [Low, High]; a nil endpoint leaves that side unbounded.
type NumericRange struct {
	Item int
	Low  *float64
	High *float64
}

func (c NumericRange) ItemID() int { return c.Item }

func (c NumericRange) canonical() string {
	return fmt.Sprintf("%d:%s%s%s", c.Item, bound(c.Low), rangeDelimiter, bound(c.High))
}

func bound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Parse decodes one encoded clause for the given item id.
func Parse(itemID int, encoded string) (Clause, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty clause for item %d", apperrors.ErrInvalidFilter, itemID)
	}
	if strings.Contains(encoded, rangeDelimiter) {
		return parseRange(itemID, encoded)
	}
	return parseCategorical(itemID, encoded)
}

func parseCategorical(itemID int, encoded string) (Clause, error) {
	parts := strings.Split(encoded, valueDelimiter)
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: bad value id %q for item %d", apperrors.ErrInvalidFilter, p, itemID)
		}
		ids = append(ids, id)
	}
	return Categorical{Item: itemID, ValueIDs: ids}, nil
}

func parseRange(itemID int, encoded string) (Clause, error) {
	parts := strings.SplitN(encoded, rangeDelimiter, 2)
	low, err := parseBound(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad lower bound %q for item %d", apperrors.ErrInvalidFilter, parts[0], itemID)
	}
	high, err := parseBound(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad upper bound %q for item %d", apperrors.ErrInvalidFilter, parts[1], itemID)
	}
	if low == nil && high == nil {
		return nil, fmt.Errorf("%w: unbounded range for item %d", apperrors.ErrInvalidFilter, itemID)
	}
	if low != nil && high != nil && *low > *high {
		return nil, fmt.Errorf("%w: inverted range for item %d", apperrors.ErrInvalidFilter, itemID)
	}
	return NumericRange{Item: itemID, Low: low, High: high}, nil
}

func parseBound(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Canonical renders an order-independent key for a clause list. Resolution is
// a pure, order-independent function of the clauses, so this key is safe for
// memoization.
func Canonical(clauses []Clause) string {
	keys := make([]string, len(clauses))
	for i, c := range clauses {
		keys[i] = c.canonical()
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}
