package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
	"github.com/cohortql/cohort-engine/pkg/database"
	"github.com/cohortql/cohort-engine/pkg/models"
)

// CatalogRepository reads the category/item catalog used to build filter
// metadata and to validate incoming clauses.
type CatalogRepository interface {
	Categories(ctx context.Context) ([]models.Category, error)
	ItemsByCategory(ctx context.Context, categoryID int) ([]models.Item, error)
	ItemByID(ctx context.Context, itemID int) (*models.Item, error)
}

type catalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a CatalogRepository backed by Postgres.
func NewCatalogRepository(db *database.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

var _ CatalogRepository = (*catalogRepository)(nil)

func (r *catalogRepository) Categories(ctx context.Context) ([]models.Category, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), sort_order
		FROM category
		ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Order); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *catalogRepository) ItemsByCategory(ctx context.Context, categoryID int) ([]models.Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), category_id, is_numeric
		FROM item
		WHERE category_id = $1
		ORDER BY name`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for category %d: %w", categoryID, err)
	}
	defer rows.Close()

	var out []models.Item
	for rows.Next() {
		var i models.Item
		if err := rows.Scan(&i.ID, &i.Name, &i.Description, &i.CategoryID, &i.IsNumeric); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *catalogRepository) ItemByID(ctx context.Context, itemID int) (*models.Item, error) {
	var i models.Item
	err := r.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), category_id, is_numeric
		FROM item
		WHERE id = $1`,
		itemID).Scan(&i.ID, &i.Name, &i.Description, &i.CategoryID, &i.IsNumeric)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query item %d: %w", itemID, err)
	}
	return &i, nil
}
