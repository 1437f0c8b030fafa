package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
	"github.com/cohortql/cohort-engine/pkg/cache"
	"github.com/cohortql/cohort-engine/pkg/config"
	"github.com/cohortql/cohort-engine/pkg/filter"
	"github.com/cohortql/cohort-engine/pkg/models"
	"github.com/cohortql/cohort-engine/pkg/privacy"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SnapshotPath:     filepath.Join(t.TempDir(), "snapshot.gob"),
		CohortTitle:      "Sample Cohort",
		UpdateDate:       "May 2026",
		Privacy:          config.PrivacyConfig{MaskThreshold: 5, JitterEnabled: true, JitterSalt: "test-salt"},
		Age:              config.AgeConfig{Min: 0, Max: 100, Step: 10},
		IdealBucketCount: 20,
	}
}

// newTestAggregation wires an AggregationService over the fakes with a jitter
// range pinned to zero, so masked counts are exactly raw-or-zero and tests can
// assert equality.
func newTestAggregation(t *testing.T, cfg *config.Config, variables *mockVariableRepo, catalog *mockCatalogRepo, summaries *mockSummaryRepo) *AggregationService {
	t.Helper()
	memo, err := cache.NewMemo(16)
	require.NoError(t, err)
	masker := privacy.New(cfg.Privacy.MaskThreshold, cfg.Privacy.JitterEnabled, cfg.Privacy.JitterSalt,
		privacy.WithJitterRange(0, 0))
	resolver := NewResolverService(variables, catalog, zap.NewNop())
	metadata := NewMetadataService(catalog, variables, cfg.IdealBucketCount, zap.NewNop())
	return NewAggregationService(cfg, resolver, metadata, summaries, masker, memo, zap.NewNop())
}

func emptyCatalog() *mockCatalogRepo {
	return &mockCatalogRepo{
		categoriesFn: func(ctx context.Context) ([]models.Category, error) {
			return nil, nil
		},
		itemByIDFn: knownItems(10),
	}
}

// summariesByID returns a ByCases stub backed by the given world, preserving
// the requested id order.
func summariesByID(world []models.CaseSummary) func(ctx context.Context, ids []int) ([]models.CaseSummary, error) {
	idx := make(map[int]models.CaseSummary, len(world))
	for _, sum := range world {
		idx[sum.CaseID] = sum
	}
	return func(_ context.Context, ids []int) ([]models.CaseSummary, error) {
		out := make([]models.CaseSummary, 0, len(ids))
		for _, id := range ids {
			if sum, ok := idx[id]; ok {
				out = append(out, sum)
			}
		}
		return out, nil
	}
}

func caseIDs(world []models.CaseSummary) []int {
	ids := make([]int, len(world))
	for i, sum := range world {
		ids[i] = sum.CaseID
	}
	return ids
}

// twentyCases is the baseline world: 10 female cases aged 60-69 and 10 male
// aged 70-79, all enrolled, 5 years of follow-up each.
func twentyCases() []models.CaseSummary {
	world := make([]models.CaseSummary, 0, 20)
	for i := 0; i < 10; i++ {
		world = append(world, models.CaseSummary{
			CaseID: i + 1, AgeBaseline: intPtr(60 + i), Sex: "female",
			Enrollment: "enrolled", FollowupYears: intPtr(5),
		})
	}
	for i := 0; i < 10; i++ {
		world = append(world, models.CaseSummary{
			CaseID: i + 11, AgeBaseline: intPtr(70 + i), Sex: "male",
			Enrollment: "enrolled", FollowupYears: intPtr(5),
		})
	}
	return world
}

func countByID(t *testing.T, resp *models.FilterResponse, id string) float64 {
	t.Helper()
	for _, c := range resp.Counts {
		if c.ID == id {
			return c.Value
		}
	}
	t.Fatalf("response has no count row %q", id)
	return 0
}

func TestWarmBuildsAndPersistsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	require.NoError(t, svc.Warm(context.Background()))
	assert.Equal(t, 20, svc.PopulationSize())

	if _, err := os.Stat(cfg.SnapshotPath); err != nil {
		t.Fatalf("snapshot was not persisted: %v", err)
	}

	resp, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, countByID(t, resp, "selected-count"))
	assert.Equal(t, "Sample Cohort participants as of May 2026", resp.Counts[0].Header)
	assert.Equal(t, 10.0, countByID(t, resp, "sex-female-count"))
	assert.Equal(t, 10.0, countByID(t, resp, "sex-male-count"))
	assert.Equal(t, 20.0, countByID(t, resp, "enrollment-enrolled-count"))
	assert.Equal(t, 5.0, countByID(t, resp, "followup-years-mean"))

	require.Len(t, resp.Age.Labels, 10)
	assert.Equal(t, "60-69", resp.Age.Labels[6])
	assert.Equal(t, "90+", resp.Age.Labels[9])
	require.Len(t, resp.Age.Datasets, 2)
	assert.Equal(t, "Female", resp.Age.Datasets[0].Label)
	assert.Equal(t, 10, resp.Age.Datasets[0].Data[6])
	assert.Equal(t, 10, resp.Age.Datasets[1].Data[7])
}

func TestWarmLoadsExistingSnapshotWithoutRecomputing(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	first := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)
	require.NoError(t, first.Warm(context.Background()))

	// A fresh process over the same snapshot path must not touch the store.
	coldSummaries := &mockSummaryRepo{
		countFn: func(ctx context.Context) (int, error) {
			return 0, fmt.Errorf("store must not be queried on a warm start")
		},
		byCasesFn: func(_ context.Context, _ []int) ([]models.CaseSummary, error) {
			return nil, fmt.Errorf("store must not be queried on a warm start")
		},
	}
	second := newTestAggregation(t, cfg, &mockVariableRepo{}, emptyCatalog(), coldSummaries)
	require.NoError(t, second.Warm(context.Background()))
	assert.Equal(t, 20, second.PopulationSize())

	// The reloaded whole-population response matches the one that was built.
	builtResp, err := first.Filter(context.Background(), nil)
	require.NoError(t, err)
	second.mu.Lock()
	loadedResp := second.snap.Population
	second.mu.Unlock()
	assert.Equal(t, builtResp, loadedResp)
}

func TestFilterMatchedNothingReturnsNullResponse(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
		casesWithValueFn: func(_ context.Context, _ int, _ []int) ([]int, error) {
			return nil, nil
		},
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), []filter.Clause{
		filter.Categorical{Item: 10, ValueIDs: []int{999}},
	})
	require.NoError(t, err)

	// Same shape as the population response, every number zero.
	pop, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, pop.Age.Labels, resp.Age.Labels)
	require.Len(t, resp.Counts, len(pop.Counts))
	for _, c := range resp.Counts {
		assert.Zero(t, c.Value, "null response row %s must be zero", c.ID)
	}
	for _, ds := range resp.Age.Datasets {
		for _, n := range ds.Data {
			assert.Zero(t, n)
		}
	}
}

func TestFilterSmallSubgroupFullySuppressed(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
		casesWithValueFn: func(_ context.Context, _ int, _ []int) ([]int, error) {
			return []int{1, 2, 3}, nil
		},
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), []filter.Clause{
		filter.Categorical{Item: 10, ValueIDs: []int{1}},
	})
	require.NoError(t, err)

	// Three cases never clear a threshold of five anywhere: every statistic
	// is suppressed, including the mean, which would otherwise leak that the
	// subgroup is small but nonempty.
	for _, c := range resp.Counts {
		assert.Zero(t, c.Value, "row %s", c.ID)
	}
	for _, ds := range resp.Age.Datasets {
		for _, n := range ds.Data {
			assert.Zero(t, n)
		}
	}
}

func TestFilterMemoizesByCanonicalClauseKey(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
		casesWithValueFn: func(_ context.Context, _ int, _ []int) ([]int, error) {
			return []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, nil
		},
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)
	require.NoError(t, svc.Warm(context.Background()))
	warmCalls := summaries.byCasesCalls.Load()

	clauses := []filter.Clause{filter.Categorical{Item: 10, ValueIDs: []int{1}}}
	first, err := svc.Filter(context.Background(), clauses)
	require.NoError(t, err)
	assert.Equal(t, warmCalls+1, summaries.byCasesCalls.Load())

	second, err := svc.Filter(context.Background(), clauses)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat filter must come from the memo")
	assert.Equal(t, warmCalls+1, summaries.byCasesCalls.Load())
}

func TestFilterEmptyClauseListAnsweredWithoutStoreQueries(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	var allCasesCalls atomic.Int64
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) {
			allCasesCalls.Add(1)
			return caseIDs(world), nil
		},
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)
	require.NoError(t, svc.Warm(context.Background()))
	warmAll := allCasesCalls.Load()
	warmBy := summaries.byCasesCalls.Load()

	resp, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20.0, countByID(t, resp, "selected-count"))
	assert.Equal(t, warmAll, allCasesCalls.Load(),
		"the empty filter must come from the snapshot, not a fresh resolve")
	assert.Equal(t, warmBy, summaries.byCasesCalls.Load())
}

func TestFilterNearPopulationSubsetStillComputed(t *testing.T) {
	cfg := testConfig(t)
	// Two fact-table cases carry no summary row, so the summary count
	// understates the known case set. A subset as large as the summary count
	// is still a subset and must be aggregated, not answered with the
	// precomputed population response.
	world := make([]models.CaseSummary, 0, 10)
	for i := 0; i < 10; i++ {
		world = append(world, models.CaseSummary{
			CaseID: i + 1, AgeBaseline: intPtr(60 + i), Sex: "female",
			Enrollment: "enrolled", FollowupYears: intPtr(5),
		})
	}
	allFactCases := append(caseIDs(world), 11, 12)
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return allFactCases, nil },
		casesWithValueFn: func(_ context.Context, _ int, _ []int) ([]int, error) {
			return []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, nil
		},
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), []filter.Clause{
		filter.Categorical{Item: 10, ValueIDs: []int{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 9.0, countByID(t, resp, "selected-count"),
		"ten matched cases out of twelve are not the whole population")
}

func TestFilterUnknownItemIsInvalid(t *testing.T) {
	cfg := testConfig(t)
	world := twentyCases()
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	_, err := svc.Filter(context.Background(), []filter.Clause{
		filter.Categorical{Item: 99, ValueIDs: []int{1}},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFilter)
}

func TestBuildResponsePrefersVariantRetainingMoreCases(t *testing.T) {
	cfg := testConfig(t)
	// Baseline ages split 3/3 across two buckets, both under threshold, total
	// 0 retained. Follow-up ages land 6 in one bucket and survive.
	world := make([]models.CaseSummary, 0, 6)
	baselines := []int{12, 13, 14, 22, 23, 24}
	for i, age := range baselines {
		world = append(world, models.CaseSummary{
			CaseID: i + 1, AgeBaseline: intPtr(age), AgeFollowup: intPtr(31 + i),
			Sex: "female", Enrollment: "enrolled", FollowupYears: intPtr(3),
		})
	}
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, countByID(t, resp, "selected-count"))
	require.Len(t, resp.Age.Datasets, 1)
	assert.Equal(t, 6, resp.Age.Datasets[0].Data[3], "chart must follow the follow-up binning")
	assert.Equal(t, 0, resp.Age.Datasets[0].Data[1])
}

func TestBuildResponseExcludesSuppressedCasesFromCompanionCounts(t *testing.T) {
	cfg := testConfig(t)
	// Eight cases in a surviving bucket plus two in a bucket that masks to
	// zero. The two suppressed cases must vanish from the enrollment tally,
	// or differencing the two charts would recover them.
	world := make([]models.CaseSummary, 0, 10)
	for i := 0; i < 8; i++ {
		world = append(world, models.CaseSummary{
			CaseID: i + 1, AgeBaseline: intPtr(41 + i), Sex: "female",
			Enrollment: "enrolled", FollowupYears: intPtr(6),
		})
	}
	world = append(world,
		models.CaseSummary{CaseID: 9, AgeBaseline: intPtr(61), Sex: "female", Enrollment: "enrolled", FollowupYears: intPtr(20)},
		models.CaseSummary{CaseID: 10, AgeBaseline: intPtr(62), Sex: "female", Enrollment: "enrolled", FollowupYears: intPtr(20)},
	)
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8.0, countByID(t, resp, "selected-count"))
	assert.Equal(t, 8.0, countByID(t, resp, "enrollment-enrolled-count"))
	assert.Equal(t, 6.0, countByID(t, resp, "followup-years-mean"),
		"suppressed cases must not drag the mean either")
}

func TestBuildResponseHonorsEnrollmentAllowList(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnrollmentStatuses = []string{"Enrolled", "Completed"}

	world := make([]models.CaseSummary, 0, 12)
	for i := 0; i < 12; i++ {
		enrollment := "enrolled"
		switch {
		case i >= 7 && i < 11:
			enrollment = "completed"
		case i == 11:
			enrollment = "withdrawn"
		}
		world = append(world, models.CaseSummary{
			CaseID: i + 1, AgeBaseline: intPtr(41 + i%8), Sex: "female",
			Enrollment: enrollment, FollowupYears: intPtr(6),
		})
	}
	variables := &mockVariableRepo{
		allCasesFn: func(ctx context.Context) ([]int, error) { return caseIDs(world), nil },
	}
	summaries := &mockSummaryRepo{
		countFn:   func(ctx context.Context) (int, error) { return len(world), nil },
		byCasesFn: summariesByID(world),
	}
	svc := newTestAggregation(t, cfg, variables, emptyCatalog(), summaries)

	resp, err := svc.Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, countByID(t, resp, "enrollment-enrolled-count"))
	assert.Zero(t, countByID(t, resp, "enrollment-completed-count"),
		"four completed cases sit at or under the threshold")
	for _, c := range resp.Counts {
		assert.NotEqual(t, "enrollment-withdrawn-count", c.ID,
			"statuses outside the allow-list never surface")
	}
}
