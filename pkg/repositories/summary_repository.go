package repositories

import (
	"context"
	"fmt"

	"github.com/cohortql/cohort-engine/pkg/database"
	"github.com/cohortql/cohort-engine/pkg/models"
)

// SummaryRepository reads the denormalized per-case charting table.
type SummaryRepository interface {
	// Count returns the total population size.
	Count(ctx context.Context) (int, error)
	// ByCases returns summary rows for the given case ids, issuing chunked
	// queries so parameter-list limits are never exceeded.
	ByCases(ctx context.Context, caseIDs []int) ([]models.CaseSummary, error)
	// BaselineAges returns the distinct non-null baseline ages, for deriving
	// the age bucketing when it is not pinned by configuration.
	BaselineAges(ctx context.Context) ([]float64, error)
}

type summaryRepository struct {
	db *database.DB
}

// NewSummaryRepository creates a SummaryRepository backed by Postgres.
func NewSummaryRepository(db *database.DB) SummaryRepository {
	return &summaryRepository{db: db}
}

var _ SummaryRepository = (*summaryRepository)(nil)

func (r *summaryRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM data_model`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count population: %w", err)
	}
	return n, nil
}

func (r *summaryRepository) ByCases(ctx context.Context, caseIDs []int) ([]models.CaseSummary, error) {
	out := make([]models.CaseSummary, 0, len(caseIDs))
	for _, part := range chunk(caseIDs, maxQueryParams) {
		rows, err := r.db.Query(ctx, `
			SELECT case_id, age_bl, age_fu, COALESCE(sex, ''), COALESCE(enrollment, ''), followup_years
			FROM data_model
			WHERE case_id = ANY($1)`,
			part)
		if err != nil {
			return nil, fmt.Errorf("failed to query case summaries: %w", err)
		}
		for rows.Next() {
			var s models.CaseSummary
			if err := rows.Scan(&s.CaseID, &s.AgeBaseline, &s.AgeFollowup, &s.Sex, &s.Enrollment, &s.FollowupYears); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan case summary: %w", err)
			}
			out = append(out, s)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *summaryRepository) BaselineAges(ctx context.Context) ([]float64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT age_bl::float8
		FROM data_model
		WHERE age_bl IS NOT NULL
		ORDER BY age_bl::float8`)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline ages: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan age: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
