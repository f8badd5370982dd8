package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/subsetsum"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// RecurrenceSource reports, per normalized rubric label, the percentage of
// earlier periods in which the rubric was returned into the base
type RecurrenceSource interface {
	Recurrence(ctx context.Context, segment models.Segment) (map[string]float64, error)
}

// ProgressCallback is called after every group of a batch
type ProgressCallback func(done, total int)

// Service reconciles groups: it classifies their items, derives the current
// base and grades the outcome
type Service struct {
	config     *Config
	classifier *classifier.Classifier
	history    RecurrenceSource
	logger     logger.Logger
}

// NewService creates a service; a nil classifier uses the default rules
func NewService(config *Config, c *classifier.Classifier) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = classifier.New(nil)
	}
	return &Service{
		config:     config.Clone(),
		classifier: c,
		logger:     logger.WithComponent("reconciler"),
	}, nil
}

// WithHistory sets where recurrence priorities come from under the
// recurrence pool policy
func (s *Service) WithHistory(h RecurrenceSource) *Service {
	s.history = h
	return s
}

// Config returns a copy of the service configuration
func (s *Service) Config() *Config {
	return s.config.Clone()
}

// ReconcileGroup reconciles one group
func (s *Service) ReconcileGroup(ctx context.Context, group models.Group) (*models.ReconciliationResult, error) {
	items := append([]models.LineItem(nil), group.Items...)
	s.classifier.Apply(items)
	group.Items = items

	// Step 1: current base
	base := s.currentBase(group)

	// Step 2: candidates
	candidates := group.Candidates
	if len(items) > 0 {
		candidates = candidatesFromItems(items)
	}

	var priority []float64
	if s.config.PoolPolicy == PoolByRecurrence && s.history != nil {
		var err error
		priority, err = s.recurrencePriority(ctx, group.Key.Segment, candidates)
		if err != nil {
			s.logger.WithError(err).WithField("group", group.Key.String()).
				Warn("Recurrence history unavailable, ranking pool by magnitude")
		}
	}

	// Step 3: search
	result, err := Reconcile(ctx, Request{
		Group:           group.Key,
		CurrentBase:     base,
		Target:          group.Target,
		Candidates:      candidates,
		PoolLimit:       s.config.PoolLimit,
		EligibleOrigins: s.config.EligibleOrigins,
		Priority:        priority,
	})
	if err != nil {
		return nil, err
	}

	// Step 4: indicators and diagnostics
	s.indicators(result, group)
	s.checkTotals(result, group)
	if result.Truncated {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"only the %d highest ranked of %d eligible items were searched", result.PoolSize, result.EligibleCount))
	}
	s.explain(result)

	// Step 5: grade
	s.config.Bands.Grade(result)
	return result, nil
}

// currentBase is the override when given, else the known total (or the sum of
// earnings) minus the earnings classified as excluded
func (s *Service) currentBase(group models.Group) decimal.Decimal {
	if group.BaseOverride != nil {
		return *group.BaseOverride
	}

	total := group.EarningsSum()
	if group.KnownTotal != nil {
		total = *group.KnownTotal
	}
	for _, it := range group.Items {
		if it.Kind == models.KindEarning && containsOrigin(s.config.ExcludedOrigins, it.Origin) {
			total = total.Sub(it.Value)
		}
	}
	return total
}

func candidatesFromItems(items []models.LineItem) []models.Candidate {
	out := make([]models.Candidate, 0, len(items))
	for _, it := range items {
		if it.Kind != models.KindEarning || it.Origin == models.OriginIncluded {
			continue
		}
		out = append(out, models.NewCandidate(it.Label, it.Value, it.Origin))
	}
	return out
}

func (s *Service) recurrencePriority(ctx context.Context, segment models.Segment, candidates []models.Candidate) ([]float64, error) {
	recurrence, err := s.history.Recurrence(ctx, segment)
	if err != nil {
		return nil, err
	}
	priority := make([]float64, len(candidates))
	for i, c := range candidates {
		priority[i] = recurrence[classifier.Normalize(c.Label)]
	}
	return priority, nil
}

func (s *Service) indicators(result *models.ReconciliationResult, group models.Group) {
	if group.KnownTotal == nil {
		return
	}
	total := *group.KnownTotal
	result.KnownTotal = models.DecimalPtr(total)
	if group.Target == nil || !total.IsPositive() {
		return
	}
	result.IncidenceIndex = models.DecimalPtr(group.Target.DivRound(total, 6))
	result.GrossGap = models.DecimalPtr(total.Sub(*group.Target))
}

// checkTotals flags groups whose extracted earnings do not add up to the
// stated earnings total
func (s *Service) checkTotals(result *models.ReconciliationResult, group models.Group) {
	if group.KnownTotal == nil || !hasEarnings(group.Items) {
		return
	}
	diff := group.EarningsSum().Sub(*group.KnownTotal)
	if diff.Abs().LessThanOrEqual(s.config.InconsistencyTolerance) {
		return
	}
	result.TotalsMismatch = models.DecimalPtr(diff)
	result.Warnings = append(result.Warnings, fmt.Sprintf(
		"earnings add up to %s but the stated total is %s",
		money.FormatBRL(group.EarningsSum()), money.FormatBRL(*group.KnownTotal)))
}

func hasEarnings(items []models.LineItem) bool {
	for _, it := range items {
		if it.Kind == models.KindEarning {
			return true
		}
	}
	return false
}

func (s *Service) explain(result *models.ReconciliationResult) {
	if len(result.ChosenCandidates) == 0 {
		return
	}
	values := make([]int64, len(result.ChosenCandidates))
	chosen := make([]int, len(values))
	for i, c := range result.ChosenCandidates {
		values[i] = money.MustCents(c.Value)
		chosen[i] = i
	}

	tolerance := money.SignedCents(s.config.ExplainTolerance)
	exp, ok := subsetsum.Explain(values, chosen, tolerance, s.config.ExplainMaxItems)
	if !ok {
		return
	}

	items := make([]models.Candidate, len(exp.Indices))
	for i, idx := range exp.Indices {
		items[i] = result.ChosenCandidates[idx]
	}
	result.Explanation = &models.Explanation{
		Items:   items,
		Sum:     money.FromCents(exp.Sum),
		Omitted: money.FromCents(exp.Omitted),
	}
}

// GroupError records a group that could not be reconciled
type GroupError struct {
	Group models.GroupKey `json:"group"`
	Err   error           `json:"-"`
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// BatchResult holds the outcome of ReconcileBatch. Results keeps the input
// order; failed groups are left out of it and listed in Errors.
type BatchResult struct {
	Results  []*models.ReconciliationResult `json:"results"`
	Errors   []*GroupError                  `json:"errors,omitempty"`
	Duration time.Duration                  `json:"duration"`
}

// Summary counts results per status
func (b *BatchResult) Summary() map[models.QualityStatus]int {
	out := make(map[models.QualityStatus]int)
	for _, r := range b.Results {
		out[r.Status]++
	}
	return out
}

// ReconcileBatch reconciles groups concurrently with at most Config.Workers
// goroutines. A failing group does not stop the others. The context is only
// checked between groups and inside the search.
func (s *Service) ReconcileBatch(ctx context.Context, groups []models.Group, progress ProgressCallback) (*BatchResult, error) {
	start := time.Now()
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "reconcile_batch",
		Total:     int64(len(groups)),
		Logger:    s.logger,
	})

	results := make([]*models.ReconciliationResult, len(groups))
	failures := make([]error, len(groups))

	var (
		mu   sync.Mutex
		done int
	)
	p := pool.New().WithMaxGoroutines(s.config.Workers)
	for i := range groups {
		i := i
		p.Go(func() {
			var err error
			if err = ctx.Err(); err == nil {
				results[i], err = s.ReconcileGroup(ctx, groups[i])
			}
			failures[i] = err
			tracker.Increment(err != nil)

			if progress != nil {
				mu.Lock()
				done++
				progress(done, len(groups))
				mu.Unlock()
			}
		})
	}
	p.Wait()

	batch := &BatchResult{Results: make([]*models.ReconciliationResult, 0, len(groups))}
	for i, err := range failures {
		if err != nil {
			batch.Errors = append(batch.Errors, &GroupError{Group: groups[i].Key, Err: err})
			continue
		}
		batch.Results = append(batch.Results, results[i])
	}
	batch.Duration = time.Since(start)

	stats := tracker.Complete()
	s.logger.WithFields(logger.Fields{
		"groups":   len(groups),
		"failed":   len(batch.Errors),
		"duration": stats.Duration.String(),
	}).Info("Batch reconciliation finished")

	if err := ctx.Err(); err != nil {
		return batch, errors.ReconciliationError(errors.CodeSearchCancelled, "batch reconciliation", err)
	}
	return batch, nil
}
