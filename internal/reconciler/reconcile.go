// Package reconciler drives the reconciliation of a payroll contribution base
// against an authoritative target.
//
// For every group (one period of one employee segment) it computes the base
// currently being declared, compares it with the target and, when the base
// falls short, returns the combination of excluded or ambiguous rubrics that
// best closes the gap without overshooting it.
//
// Example usage:
//
//	svc, err := reconciler.NewService(reconciler.DefaultConfig(), classifier.New(nil))
//	if err != nil {
//		return err
//	}
//	result, err := svc.ReconcileGroup(ctx, group)
//	if err != nil {
//		return err
//	}
//	fmt.Println(result.State, result.ResidualError)
package reconciler

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/subsetsum"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Request is the input of one reconciliation
type Request struct {
	Group       models.GroupKey
	CurrentBase decimal.Decimal
	// Target is the authoritative base; nil when none was found
	Target     *decimal.Decimal
	Candidates []models.Candidate
	PoolLimit  int

	// EligibleOrigins restricts which candidates may be returned; empty
	// means all. Candidates without an origin tag are always eligible.
	EligibleOrigins []models.Origin

	// Priority optionally ranks Candidates for the pool, aligned by index
	Priority []float64
}

// Reconcile runs the base reconciliation state machine for one group. It
// fails only on malformed input; an unreachable target is reported through
// the residual.
func Reconcile(ctx context.Context, req Request) (*models.ReconciliationResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	log := logger.WithComponent("reconciler").WithField("group", req.Group.String())

	result := &models.ReconciliationResult{
		Group:            req.Group,
		CurrentBase:      req.CurrentBase,
		ApproximatedBase: req.CurrentBase,
		ChosenCandidates: []models.Candidate{},
	}

	if req.Target == nil {
		result.State = models.StateNoTarget
		log.Debug("No authoritative target, reporting current base")
		return result, nil
	}

	target := *req.Target
	gap := target.Sub(req.CurrentBase)
	result.Target = models.DecimalPtr(target)
	result.Gap = models.DecimalPtr(gap)

	if !gap.IsPositive() {
		result.State = models.StateSatisfied
		result.ResidualError = models.DecimalPtr(gap)
		log.WithField("gap", gap.String()).Debug("Current base already reaches the target")
		return result, nil
	}

	eligible, priority := filterEligible(req)
	values := make([]int64, len(eligible))
	for i, c := range eligible {
		values[i] = money.MustCents(c.Value)
	}

	// floor so the returned amount can never overshoot the target
	gapCents := gap.Shift(2).Floor().IntPart()
	solution, err := subsetsum.SearchContext(ctx, values, gapCents, subsetsum.Options{
		PoolLimit: req.PoolLimit,
		Priority:  priority,
	})
	if err != nil {
		return nil, err
	}

	chosen := make([]models.Candidate, len(solution.Indices))
	for i, idx := range solution.Indices {
		chosen[i] = eligible[idx]
	}
	sort.SliceStable(chosen, func(a, b int) bool {
		return chosen[a].Value.GreaterThan(chosen[b].Value)
	})

	approximated := req.CurrentBase.Add(money.FromCents(solution.Sum))
	result.State = models.StateApproximated
	result.ApproximatedBase = approximated
	result.ResidualError = models.DecimalPtr(target.Sub(approximated))
	result.ChosenCandidates = chosen
	result.EligibleCount = len(eligible)
	result.PoolSize = solution.PoolSize
	result.Truncated = solution.Truncated

	log.WithFields(logger.Fields{
		"gap":      gap.String(),
		"eligible": len(eligible),
		"pool":     solution.PoolSize,
		"chosen":   len(chosen),
		"residual": result.ResidualError.String(),
	}).Debug("Approximated base from below")

	return result, nil
}

func validateRequest(req Request) error {
	if req.Target != nil && req.Target.IsNegative() {
		return errors.ValidationError(errors.CodeNegativeTarget, "target", req.Target.String(), nil).
			WithContext("group", req.Group.String()).
			WithSuggestion("a negative target usually means the totals row was extracted incorrectly")
	}
	for i, c := range req.Candidates {
		if c.Value.IsNegative() {
			return errors.ValidationError(errors.CodeNegativeAmount,
				fmt.Sprintf("candidates[%d]", i), c.Value.String(), nil).
				WithContext("group", req.Group.String()).
				WithContext("label", c.Label)
		}
	}
	if req.Priority != nil && len(req.Priority) != len(req.Candidates) {
		return errors.ValidationError(errors.CodeOutOfRange, "priority",
			fmt.Sprintf("%d priorities for %d candidates", len(req.Priority), len(req.Candidates)), nil)
	}
	return subsetsum.ValidatePoolLimit(req.PoolLimit)
}

func filterEligible(req Request) ([]models.Candidate, []float64) {
	eligible := make([]models.Candidate, 0, len(req.Candidates))
	var priority []float64
	if req.Priority != nil {
		priority = make([]float64, 0, len(req.Candidates))
	}

	for i, c := range req.Candidates {
		if !c.Value.IsPositive() {
			continue
		}
		if c.Origin != "" && len(req.EligibleOrigins) > 0 && !containsOrigin(req.EligibleOrigins, c.Origin) {
			continue
		}
		// cents are what gets searched; sub-cent leftovers cannot be returned
		if money.MustCents(c.Value) == 0 {
			continue
		}
		eligible = append(eligible, c)
		if priority != nil {
			priority = append(priority, req.Priority[i])
		}
	}
	return eligible, priority
}
