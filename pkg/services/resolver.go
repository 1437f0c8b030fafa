package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
	"github.com/cohortql/cohort-engine/pkg/filter"
	"github.com/cohortql/cohort-engine/pkg/repositories"
)

// CaseSet is the result of resolving a clause list. When the filter supplied
// no clauses, or matched nothing, Cases holds the full known population and
// the corresponding flag is set; callers use the flags to short-circuit to a
// precomputed response instead of re-aggregating.
type CaseSet struct {
	Cases     []int
	NoFilter  bool
	NoResults bool
}

// ResolverService evaluates filter clauses against the fact table. Resolution
// is a pure function of the clause set: clauses are combined by intersection,
// so order never matters. The memoization layer depends on that.
type ResolverService struct {
	variables repositories.VariableRepository
	catalog   repositories.CatalogRepository
	logger    *zap.Logger
}

// NewResolverService creates a ResolverService.
func NewResolverService(variables repositories.VariableRepository, catalog repositories.CatalogRepository, logger *zap.Logger) *ResolverService {
	return &ResolverService{variables: variables, catalog: catalog, logger: logger}
}

// Resolve computes the case set matching the conjunction of clauses. Unknown
// item ids reject the whole filter with ErrInvalidFilter: a bad clause must
// never silently widen to "match everything".
func (s *ResolverService) Resolve(ctx context.Context, clauses []filter.Clause) (*CaseSet, error) {
	if len(clauses) == 0 {
		all, err := s.variables.AllCases(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve all cases: %w", err)
		}
		return &CaseSet{Cases: all, NoFilter: true}, nil
	}

	// Validate every clause up front. Rejection must not depend on clause
	// order, and an empty running intersection must not hide a bad item id.
	for _, clause := range clauses {
		if _, err := s.catalog.ItemByID(ctx, clause.ItemID()); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown item %d", apperrors.ErrInvalidFilter, clause.ItemID())
			}
			return nil, fmt.Errorf("resolve item %d: %w", clause.ItemID(), err)
		}
	}

	var intersection map[int]struct{}
	for _, clause := range clauses {
		matched, err := s.matchClause(ctx, clause)
		if err != nil {
			return nil, err
		}
		intersection = intersect(intersection, matched)
		if len(intersection) == 0 {
			break
		}
	}

	if len(intersection) == 0 {
		all, err := s.variables.AllCases(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve all cases: %w", err)
		}
		s.logger.Debug("Filter matched no cases", zap.Int("clauses", len(clauses)))
		return &CaseSet{Cases: all, NoResults: true}, nil
	}

	cases := make([]int, 0, len(intersection))
	for id := range intersection {
		cases = append(cases, id)
	}
	sort.Ints(cases)
	return &CaseSet{Cases: cases}, nil
}

func (s *ResolverService) matchClause(ctx context.Context, clause filter.Clause) ([]int, error) {
	switch c := clause.(type) {
	case filter.Categorical:
		matched, err := s.variables.CasesWithValueIn(ctx, c.Item, c.ValueIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve categorical clause on item %d: %w", c.Item, err)
		}
		return matched, nil
	case filter.NumericRange:
		matched, err := s.variables.CasesInRange(ctx, c.Item, c.Low, c.High)
		if err != nil {
			return nil, fmt.Errorf("resolve range clause on item %d: %w", c.Item, err)
		}
		return matched, nil
	default:
		return nil, fmt.Errorf("%w: unsupported clause type %T", apperrors.ErrInvalidFilter, clause)
	}
}

// intersect combines the running intersection with the next clause's matches.
// A nil accumulator means "first clause".
func intersect(acc map[int]struct{}, next []int) map[int]struct{} {
	if acc == nil {
		acc = make(map[int]struct{}, len(next))
		for _, id := range next {
			acc[id] = struct{}{}
		}
		return acc
	}
	keep := make(map[int]struct{}, len(next))
	for _, id := range next {
		if _, ok := acc[id]; ok {
			keep[id] = struct{}{}
		}
	}
	return keep
}
