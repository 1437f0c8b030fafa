// Package repositories provides read-only data access to the cohort fact
// tables. The engine owns no persistent state; every repository here only
// queries what ingestion produced.
package repositories

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// maxQueryParams caps the size of an IN-list per query; larger case-id sets
// are chunked by the callers below.
const maxQueryParams = 2000

func scanInts(rows pgx.Rows) ([]int, error) {
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []int, size int) [][]int {
	if size <= 0 {
		size = maxQueryParams
	}
	var out [][]int
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
