// Package cache holds the engine's derived, disposable artifacts: the bounded
// per-process memoization of filter responses and the durable startup
// snapshot. Nothing here is authoritative; everything can be rebuilt from the
// store.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cohortql/cohort-engine/pkg/models"
)

// DefaultMemoCapacity bounds the filter-response memo. Interactive use repeats
// a small set of filters heavily; 256 entries covers that comfortably.
const DefaultMemoCapacity = 256

// Memo is a bounded LRU of canonical-clause-key -> response with observable
// hit/miss counters. Safe for concurrent use.
type Memo struct {
	lru    *lru.Cache[string, *models.FilterResponse]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemo creates a Memo with the given capacity (DefaultMemoCapacity when
// capacity is not positive).
func NewMemo(capacity int) (*Memo, error) {
	if capacity <= 0 {
		capacity = DefaultMemoCapacity
	}
	inner, err := lru.New[string, *models.FilterResponse](capacity)
	if err != nil {
		return nil, err
	}
	return &Memo{lru: inner}, nil
}

// Get returns the memoized response for the key, if present.
func (m *Memo) Get(key string) (*models.FilterResponse, bool) {
	resp, ok := m.lru.Get(key)
	if ok {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
	return resp, ok
}

// Add stores a response, evicting the least recently used entry at capacity.
func (m *Memo) Add(key string, resp *models.FilterResponse) {
	m.lru.Add(key, resp)
}

// Purge drops every memoized response. Counters are preserved.
func (m *Memo) Purge() { m.lru.Purge() }

// Len returns the number of memoized responses.
func (m *Memo) Len() int { return m.lru.Len() }

// Hits returns the number of lookups served from the memo.
func (m *Memo) Hits() int64 { return m.hits.Load() }

// Misses returns the number of lookups that fell through to computation.
func (m *Memo) Misses() int64 { return m.misses.Load() }
