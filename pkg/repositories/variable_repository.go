package repositories

import (
	"context"
	"fmt"

	"github.com/cohortql/cohort-engine/pkg/database"
	"github.com/cohortql/cohort-engine/pkg/models"
)

// VariableRepository provides read access to the fact table.
type VariableRepository interface {
	// AllCases returns every case identifier known to the fact table.
	AllCases(ctx context.Context) ([]int, error)
	// CasesWithValueIn returns cases holding any of the listed values for the item.
	CasesWithValueIn(ctx context.Context, itemID int, valueIDs []int) ([]int, error)
	// CasesInRange returns cases whose value for the item has a numeric
	// equivalent within [low, high]; nil bounds are unbounded.
	CasesInRange(ctx context.Context, itemID int, low, high *float64) ([]int, error)
	// ValuesForItem returns the distinct values actually used by the item.
	ValuesForItem(ctx context.Context, itemID int) ([]models.Value, error)
}

type variableRepository struct {
	db *database.DB
}

// NewVariableRepository creates a VariableRepository backed by Postgres.
func NewVariableRepository(db *database.DB) VariableRepository {
	return &variableRepository{db: db}
}

var _ VariableRepository = (*variableRepository)(nil)

func (r *variableRepository) AllCases(ctx context.Context) ([]int, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT case_id FROM variable`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all cases: %w", err)
	}
	return scanInts(rows)
}

func (r *variableRepository) CasesWithValueIn(ctx context.Context, itemID int, valueIDs []int) ([]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT case_id
		FROM variable
		WHERE item_id = $1 AND value_id = ANY($2)`,
		itemID, valueIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases for item %d: %w", itemID, err)
	}
	return scanInts(rows)
}

func (r *variableRepository) CasesInRange(ctx context.Context, itemID int, low, high *float64) ([]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT var.case_id
		FROM variable var
		JOIN value val ON val.id = var.value_id
		WHERE var.item_id = $1
		  AND val.name_numeric IS NOT NULL
		  AND ($2::float8 IS NULL OR val.name_numeric >= $2)
		  AND ($3::float8 IS NULL OR val.name_numeric <= $3)`,
		itemID, low, high)
	if err != nil {
		return nil, fmt.Errorf("failed to query range cases for item %d: %w", itemID, err)
	}
	return scanInts(rows)
}

func (r *variableRepository) ValuesForItem(ctx context.Context, itemID int) ([]models.Value, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT val.id, val.name, val.name_numeric, val.description, val.sort_order
		FROM value val
		JOIN variable var ON var.value_id = val.id
		WHERE var.item_id = $1
		ORDER BY val.sort_order NULLS LAST, val.name`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query values for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var out []models.Value
	for rows.Next() {
		var v models.Value
		var desc *string
		if err := rows.Scan(&v.ID, &v.Name, &v.NameNumeric, &desc, &v.Order); err != nil {
			return nil, fmt.Errorf("failed to scan value row: %w", err)
		}
		if desc != nil {
			v.Description = *desc
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
