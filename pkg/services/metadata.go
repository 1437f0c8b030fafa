package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/models"
	"github.com/cohortql/cohort-engine/pkg/ranges"
	"github.com/cohortql/cohort-engine/pkg/repositories"
)

// MetadataService builds the filter-sidebar description of every category and
// item: discrete value lists for categorical items, materialized (min, max,
// step) ranges for numeric ones. Computed once at startup and persisted in
// the snapshot.
type MetadataService struct {
	catalog      repositories.CatalogRepository
	variables    repositories.VariableRepository
	idealBuckets int
	logger       *zap.Logger
}

// NewMetadataService creates a MetadataService.
func NewMetadataService(catalog repositories.CatalogRepository, variables repositories.VariableRepository, idealBuckets int, logger *zap.Logger) *MetadataService {
	return &MetadataService{
		catalog:      catalog,
		variables:    variables,
		idealBuckets: idealBuckets,
		logger:       logger,
	}
}

// AllCategories returns the full catalog in display order.
func (s *MetadataService) AllCategories(ctx context.Context) ([]models.CategoryMeta, error) {
	categories, err := s.catalog.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	out := make([]models.CategoryMeta, 0, len(categories))
	for _, category := range categories {
		meta := models.CategoryMeta{
			ID:          category.ID,
			Name:        category.Name,
			Description: category.Description,
		}
		items, err := s.catalog.ItemsByCategory(ctx, category.ID)
		if err != nil {
			return nil, fmt.Errorf("load items for category %d: %w", category.ID, err)
		}
		for _, item := range items {
			itemMeta, err := s.itemMeta(ctx, item)
			if err != nil {
				return nil, err
			}
			meta.Items = append(meta.Items, itemMeta)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (s *MetadataService) itemMeta(ctx context.Context, item models.Item) (models.ItemMeta, error) {
	meta := models.ItemMeta{ID: item.ID, Name: item.Name, Description: item.Description}

	values, err := s.variables.ValuesForItem(ctx, item.ID)
	if err != nil {
		return meta, fmt.Errorf("load values for item %d: %w", item.ID, err)
	}

	if item.IsNumeric {
		points := make([]ranges.ValuePoint, len(values))
		for i, v := range values {
			order := i
			if v.Order != nil {
				order = *v.Order
			}
			points[i] = ranges.ValuePoint{Numeric: v.NameNumeric, Order: order, ID: v.ID}
		}
		if r, ok := ranges.Materialize(points, s.idealBuckets); ok {
			meta.Range = &models.RangeMeta{Min: r.Min, Max: r.Max, Step: r.Step}
			return meta, nil
		}
		// Degenerate numeric range: fall through to the discrete value list.
		s.logger.Debug("No usable numeric range, listing discrete values",
			zap.Int("item", item.ID), zap.String("name", item.Name))
	}

	for _, v := range values {
		meta.Values = append(meta.Values, models.ValueMeta{ID: v.ID, Name: v.Name, Description: v.Description})
	}
	return meta, nil
}
