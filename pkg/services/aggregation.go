// Package services holds the query engine: clause resolution, censored
// aggregation, and the precompute/memoization lifecycle around them.
package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/cache"
	"github.com/cohortql/cohort-engine/pkg/config"
	"github.com/cohortql/cohort-engine/pkg/filter"
	"github.com/cohortql/cohort-engine/pkg/histogram"
	"github.com/cohortql/cohort-engine/pkg/models"
	"github.com/cohortql/cohort-engine/pkg/privacy"
	"github.com/cohortql/cohort-engine/pkg/ranges"
	"github.com/cohortql/cohort-engine/pkg/repositories"
)

// AggregationService coordinates the resolver, the censored histogram, and
// the cache layers. It owns the startup snapshot (whole-population and null
// responses) and the bounded per-process memo; shared domain data is never
// mutated after Warm, so concurrent requests need no locking beyond the memo.
type AggregationService struct {
	cfg       *config.Config
	resolver  *ResolverService
	metadata  *MetadataService
	summaries repositories.SummaryRepository
	masker    *privacy.Masker
	memo      *cache.Memo
	logger    *zap.Logger

	mu       sync.Mutex // guards snap and ageRange during Warm/Reload
	snap     *cache.Snapshot
	ageRange ranges.Range
}

// NewAggregationService creates an AggregationService.
func NewAggregationService(
	cfg *config.Config,
	resolver *ResolverService,
	metadata *MetadataService,
	summaries repositories.SummaryRepository,
	masker *privacy.Masker,
	memo *cache.Memo,
	logger *zap.Logger,
) *AggregationService {
	return &AggregationService{
		cfg:       cfg,
		resolver:  resolver,
		metadata:  metadata,
		summaries: summaries,
		masker:    masker,
		memo:      memo,
		logger:    logger,
	}
}

// Warm loads the persisted snapshot, or rebuilds and persists it when the
// file is missing or unreadable. Safe to call concurrently: one caller does
// the expensive precompute, the rest wait on the same deterministic result.
func (s *AggregationService) Warm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return nil
	}

	snap, err := cache.LoadSnapshot(s.cfg.SnapshotPath)
	if err != nil {
		s.logger.Warn("Snapshot unavailable, rebuilding", zap.Error(err))
		return s.rebuildLocked(ctx)
	}
	if err := s.deriveAgeRangeLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("Loaded precomputed snapshot",
		zap.String("path", s.cfg.SnapshotPath),
		zap.Int("population", snap.PopulationSize))
	s.snap = snap
	return nil
}

// Reload discards the current snapshot and recomputes everything, rewriting
// the persisted file. The memo is dropped as well: its entries were computed
// against the old snapshot's age bucketing.
func (s *AggregationService) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.ageRange = ranges.Range{}
	s.memo.Purge()
	return s.rebuildLocked(ctx)
}

func (s *AggregationService) rebuildLocked(ctx context.Context) error {
	s.logger.Info("Building caches: this may take a few minutes")

	populationSize, err := s.summaries.Count(ctx)
	if err != nil {
		return fmt.Errorf("precompute population size: %w", err)
	}

	categories, err := s.metadata.AllCategories(ctx)
	if err != nil {
		return fmt.Errorf("precompute categories: %w", err)
	}

	if err := s.deriveAgeRangeLocked(ctx); err != nil {
		return err
	}

	all, err := s.resolver.Resolve(ctx, nil)
	if err != nil {
		return fmt.Errorf("precompute population case set: %w", err)
	}

	// Baselines are masked but never jittered: the persisted response must be
	// identical across weeks.
	population, err := s.buildResponse(ctx, all.Cases, s.ageRange, s.masker.WithoutJitter())
	if err != nil {
		return fmt.Errorf("precompute population response: %w", err)
	}

	snap := &cache.Snapshot{
		PopulationSize: populationSize,
		CaseCount:      len(all.Cases),
		Categories:     categories,
		Population:     population,
		Null:           population.Zeroed(),
	}
	if err := snap.Save(s.cfg.SnapshotPath); err != nil {
		// Non-fatal: serve from memory and retry persisting on next rebuild.
		s.logger.Warn("Failed to persist snapshot", zap.Error(err))
	}
	s.snap = snap
	s.logger.Info("Finished building caches", zap.Int("population", populationSize))
	return nil
}

// PopulationSize returns the precomputed cohort size.
func (s *AggregationService) PopulationSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return 0
	}
	return s.snap.PopulationSize
}

// Categories returns the precomputed filter metadata.
func (s *AggregationService) Categories() []models.CategoryMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil
	}
	return s.snap.Categories
}

// Filter answers one filter request. Precomputed responses cover the empty
// filter and the matched-nothing cases; everything else is computed fresh and
// memoized under the canonical clause key.
func (s *AggregationService) Filter(ctx context.Context, clauses []filter.Clause) (*models.FilterResponse, error) {
	if err := s.Warm(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()

	// The empty filter is the landing-page query. Answer it straight from the
	// snapshot without touching the store.
	if len(clauses) == 0 {
		return snap.Population, nil
	}

	key := filter.Canonical(clauses)
	if resp, ok := s.memo.Get(key); ok {
		return resp, nil
	}

	caseSet, err := s.resolver.Resolve(ctx, clauses)
	if err != nil {
		return nil, err
	}

	if caseSet.NoResults {
		// Same shape as a real response, every number zero: the caller cannot
		// tell "matched nothing" from "matched and fully suppressed".
		return snap.Null, nil
	}
	// Compare against the fact table's case count, not the summary count; the
	// two can differ and the precomputed response covers exactly the former.
	if snap.CaseCount > 0 && len(caseSet.Cases) >= snap.CaseCount {
		return snap.Population, nil
	}

	resp, err := s.buildResponse(ctx, caseSet.Cases, s.bucketRange(), s.masker)
	if err != nil {
		return nil, err
	}
	s.memo.Add(key, resp)
	return resp, nil
}

// deriveAgeRangeLocked fixes the age bucketing for the lifetime of the
// snapshot: pinned by configuration when all three bounds are set, otherwise
// materialized from the distinct baseline ages in the store.
func (s *AggregationService) deriveAgeRangeLocked(ctx context.Context) error {
	if s.cfg.Age.Step > 0 && s.cfg.Age.Max > s.cfg.Age.Min {
		s.ageRange = ranges.Range{
			Min:  float64(s.cfg.Age.Min),
			Max:  float64(s.cfg.Age.Max),
			Step: float64(s.cfg.Age.Step),
		}
		return nil
	}

	ages, err := s.summaries.BaselineAges(ctx)
	if err != nil {
		return fmt.Errorf("derive age range: %w", err)
	}
	points := make([]ranges.ValuePoint, len(ages))
	for i := range ages {
		points[i] = ranges.ValuePoint{Numeric: &ages[i], Order: i, ID: i}
	}
	if r, ok := ranges.Materialize(points, s.cfg.IdealBucketCount); ok {
		s.ageRange = r
		return nil
	}
	s.logger.Warn("Could not derive age range from data, using 0-100 by 10")
	s.ageRange = ranges.Range{Min: 0, Max: 100, Step: 10}
	return nil
}

func (s *AggregationService) bucketRange() ranges.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ageRange
}

// AgeBuckets exposes the derived bucketing for the metadata surface.
func (s *AggregationService) AgeBuckets() ranges.Range {
	return s.bucketRange()
}

// buildResponse aggregates one resolved case set into a censored response
// binned per bucketRange.
func (s *AggregationService) buildResponse(ctx context.Context, caseIDs []int, bucketRange ranges.Range, masker *privacy.Masker) (*models.FilterResponse, error) {
	sums, err := s.summaries.ByCases(ctx, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("load case summaries: %w", err)
	}

	// Bin by both age variants and keep whichever masks away fewer subjects.
	// Ties prefer baseline.
	baseline := histogram.Censored(ageRows(sums, variantBaseline), bucketRange, masker)
	followup := histogram.Censored(ageRows(sums, variantFollowup), bucketRange, masker)
	chosen := baseline
	if histogram.Total(followup) > histogram.Total(baseline) {
		chosen = followup
	}
	selected := histogram.Total(chosen)

	// The chosen variant's exclusions apply to every companion statistic, so
	// no chart reveals a count the histogram suppressed.
	excluded := make(map[int]bool)
	for _, h := range chosen {
		for _, id := range h.ExcludedCases {
			excluded[id] = true
		}
	}

	counts := make([]models.SubjectCount, 0, 8)
	counts = append(counts, models.SubjectCount{
		ID:     "selected-count",
		Header: s.selectedHeader(),
		Value:  float64(selected),
	})
	for _, h := range chosen {
		bucketSum := 0
		for _, n := range h.Counts {
			bucketSum += n // already jittered and masked
		}
		counts = append(counts, models.SubjectCount{
			ID:     fmt.Sprintf("sex-%s-count", strings.ToLower(h.Label)),
			Header: fmt.Sprintf("- %s", h.Label),
			Value:  float64(bucketSum),
		})
	}
	counts = append(counts, s.enrollmentCounts(sums, excluded, masker)...)
	counts = append(counts, models.SubjectCount{
		ID:     "followup-years-mean",
		Header: "Mean years of follow-up",
		Value:  s.meanFollowup(sums, excluded, selected),
	})

	age := models.ChartData{Labels: histogram.BucketLabels(bucketRange)}
	for _, h := range chosen {
		age.Datasets = append(age.Datasets, models.Dataset{Label: h.Label, Data: h.Counts})
	}

	return &models.FilterResponse{Counts: counts, Age: age}, nil
}

func (s *AggregationService) selectedHeader() string {
	header := fmt.Sprintf("%s participants", s.cfg.CohortTitle)
	if s.cfg.UpdateDate != "" {
		header = fmt.Sprintf("%s as of %s", header, s.cfg.UpdateDate)
	}
	return header
}

// enrollmentCounts tallies enrollment statuses over the non-excluded cases,
// restricted to the configured allow-list when one is set. Each status is an
// independent jitter series.
func (s *AggregationService) enrollmentCounts(sums []models.CaseSummary, excluded map[int]bool, masker *privacy.Masker) []models.SubjectCount {
	tally := make(map[string]int)
	for _, sum := range sums {
		if excluded[sum.CaseID] || sum.Enrollment == "" {
			continue
		}
		tally[strings.ToLower(sum.Enrollment)]++
	}

	statuses := s.cfg.EnrollmentStatuses
	if len(statuses) == 0 {
		statuses = make([]string, 0, len(tally))
		for status := range tally {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
	}

	out := make([]models.SubjectCount, 0, len(statuses))
	for _, status := range statuses {
		key := strings.ToLower(status)
		masked := masker.MaskAndJitter(tally[key], "enrollment-"+key)
		out = append(out, models.SubjectCount{
			ID:     fmt.Sprintf("enrollment-%s-count", key),
			Header: capitalizeLabel(key),
			Value:  float64(masked),
		})
	}
	return out
}

// meanFollowup computes the mean follow-up duration over the included cases,
// but only when the post-masking selected count clears the threshold. Below
// it the mean is reported as 0, never computed-then-hidden, so a suppressed
// count cannot be reverse-engineered from a revealed mean.
func (s *AggregationService) meanFollowup(sums []models.CaseSummary, excluded map[int]bool, selected int) float64 {
	if selected <= s.cfg.Privacy.MaskThreshold {
		return 0
	}
	total, n := 0, 0
	for _, sum := range sums {
		if excluded[sum.CaseID] || sum.FollowupYears == nil {
			continue
		}
		total += *sum.FollowupYears
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(float64(total)/float64(n)*10) / 10
}

type ageVariant int

const (
	variantBaseline ageVariant = iota
	variantFollowup
)

func ageRows(sums []models.CaseSummary, variant ageVariant) []histogram.AgeRow {
	rows := make([]histogram.AgeRow, 0, len(sums))
	for _, sum := range sums {
		age := sum.AgeBaseline
		if variant == variantFollowup {
			age = sum.AgeFollowup
		}
		rows = append(rows, histogram.AgeRow{CaseID: sum.CaseID, Category: sum.Sex, Age: age})
	}
	return rows
}

func capitalizeLabel(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
