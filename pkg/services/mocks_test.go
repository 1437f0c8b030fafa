package services

import (
	"context"
	"sync/atomic"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
	"github.com/cohortql/cohort-engine/pkg/models"
	"github.com/cohortql/cohort-engine/pkg/repositories"
)

// Hand-rolled repository fakes. Each method delegates to a function field so
// individual tests can override exactly the calls they care about.

type mockVariableRepo struct {
	allCasesFn       func(ctx context.Context) ([]int, error)
	casesWithValueFn func(ctx context.Context, itemID int, valueIDs []int) ([]int, error)
	casesInRangeFn   func(ctx context.Context, itemID int, low, high *float64) ([]int, error)
	valuesForItemFn  func(ctx context.Context, itemID int) ([]models.Value, error)
}

var _ repositories.VariableRepository = (*mockVariableRepo)(nil)

func (m *mockVariableRepo) AllCases(ctx context.Context) ([]int, error) {
	return m.allCasesFn(ctx)
}

func (m *mockVariableRepo) CasesWithValueIn(ctx context.Context, itemID int, valueIDs []int) ([]int, error) {
	return m.casesWithValueFn(ctx, itemID, valueIDs)
}

func (m *mockVariableRepo) CasesInRange(ctx context.Context, itemID int, low, high *float64) ([]int, error) {
	return m.casesInRangeFn(ctx, itemID, low, high)
}

func (m *mockVariableRepo) ValuesForItem(ctx context.Context, itemID int) ([]models.Value, error) {
	return m.valuesForItemFn(ctx, itemID)
}

type mockCatalogRepo struct {
	categoriesFn      func(ctx context.Context) ([]models.Category, error)
	itemsByCategoryFn func(ctx context.Context, categoryID int) ([]models.Item, error)
	itemByIDFn        func(ctx context.Context, itemID int) (*models.Item, error)
}

var _ repositories.CatalogRepository = (*mockCatalogRepo)(nil)

func (m *mockCatalogRepo) Categories(ctx context.Context) ([]models.Category, error) {
	return m.categoriesFn(ctx)
}

func (m *mockCatalogRepo) ItemsByCategory(ctx context.Context, categoryID int) ([]models.Item, error) {
	return m.itemsByCategoryFn(ctx, categoryID)
}

func (m *mockCatalogRepo) ItemByID(ctx context.Context, itemID int) (*models.Item, error) {
	return m.itemByIDFn(ctx, itemID)
}

// knownItems is the common ItemByID stub: any id in the set resolves, anything
// else is not found.
func knownItems(ids ...int) func(ctx context.Context, itemID int) (*models.Item, error) {
	known := make(map[int]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return func(_ context.Context, itemID int) (*models.Item, error) {
		if !known[itemID] {
			return nil, apperrors.ErrNotFound
		}
		return &models.Item{ID: itemID}, nil
	}
}

type mockSummaryRepo struct {
	countFn        func(ctx context.Context) (int, error)
	byCasesFn      func(ctx context.Context, caseIDs []int) ([]models.CaseSummary, error)
	baselineAgesFn func(ctx context.Context) ([]float64, error)

	byCasesCalls atomic.Int64
}

var _ repositories.SummaryRepository = (*mockSummaryRepo)(nil)

func (m *mockSummaryRepo) Count(ctx context.Context) (int, error) {
	return m.countFn(ctx)
}

func (m *mockSummaryRepo) ByCases(ctx context.Context, caseIDs []int) ([]models.CaseSummary, error) {
	m.byCasesCalls.Add(1)
	return m.byCasesFn(ctx, caseIDs)
}

func (m *mockSummaryRepo) BaselineAges(ctx context.Context) ([]float64, error) {
	return m.baselineAgesFn(ctx)
}

func intPtr(n int) *int { return &n }
