// Package subsetsum finds the subset of non-negative amounts whose sum is as
// large as possible without exceeding a target ("approximation from below").
//
// The search runs meet-in-the-middle over a bounded pool of candidates:
//
//   - the pool keeps at most PoolLimit candidates, ranked by magnitude (or by a
//     caller supplied priority) with ties broken by original position;
//   - each half of the pool enumerates its subset sums in (sum, mask) order,
//     discarding sums above the target;
//   - the left sums are walked upwards while a cursor walks the right sums
//     downwards to the largest complement that still fits.
//
// The result is optimal over the pool. When the input is larger than the pool
// the smallest (or lowest priority) candidates are never considered, so a
// tighter fit using many small items can be missed. That is a known
// limitation of the bounded pool, not a defect.
//
// All amounts are int64 cents. Nothing here keeps state between calls, so
// searches may run concurrently.
package subsetsum

import (
	"context"
	"fmt"
	"sort"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

const (
	// DefaultPoolLimit is 22+22 candidates, about 4.2M sums per half.
	DefaultPoolLimit = 44
	// MaxPoolLimit keeps each half mask within 30 bits. Anything above
	// DefaultPoolLimit is an operator setting: memory quadruples per extra
	// pair of candidates.
	MaxPoolLimit = 60

	cancelCheckEvery = 1 << 16
)

// Options tunes one search.
type Options struct {
	// PoolLimit is the maximum number of candidates considered; 0 means
	// DefaultPoolLimit.
	PoolLimit int
	// Priority optionally ranks candidates for the pool. Higher priority is
	// kept first, then larger value, then earlier position. Must have the
	// same length as the values when set.
	Priority []float64
}

// Solution is the outcome of one search.
type Solution struct {
	// Sum is the achieved sum, never above the target.
	Sum int64
	// Indices are positions in the input slice, ascending.
	Indices []int
	// PoolSize is the number of candidates actually searched.
	PoolSize int
	// Truncated is set when some candidates were left out of the pool.
	Truncated bool
}

// Shortfall returns target - Sum.
func (s Solution) Shortfall(target int64) int64 {
	if target <= 0 {
		return 0
	}
	return target - s.Sum
}

type partial struct {
	sum  int64
	mask uint32
}

// Search is SearchContext without cancellation.
func Search(values []int64, target int64, opts Options) (Solution, error) {
	return SearchContext(context.Background(), values, target, opts)
}

// SearchContext returns the subset of values with the largest sum <= target.
// A non-positive target or an empty input yields an empty solution. Negative
// values are rejected.
func SearchContext(ctx context.Context, values []int64, target int64, opts Options) (Solution, error) {
	limit, err := resolvePoolLimit(opts.PoolLimit)
	if err != nil {
		return Solution{}, err
	}
	if opts.Priority != nil && len(opts.Priority) != len(values) {
		return Solution{}, errors.ValidationError(errors.CodeOutOfRange, "priority",
			fmt.Sprintf("%d priorities for %d values", len(opts.Priority), len(values)), nil)
	}
	for i, v := range values {
		if v < 0 {
			return Solution{}, errors.ValidationError(errors.CodeNegativeAmount, fmt.Sprintf("values[%d]", i), v, nil)
		}
	}
	if target <= 0 || len(values) == 0 {
		return Solution{}, nil
	}

	pool := selectPool(values, opts.Priority, limit)
	pooled := make([]int64, len(pool))
	for i, idx := range pool {
		pooled[i] = values[idx]
	}

	mid := len(pooled) / 2
	left, err := enumerate(ctx, pooled[:mid], target)
	if err != nil {
		return Solution{}, err
	}
	right, err := enumerate(ctx, pooled[mid:], target)
	if err != nil {
		return Solution{}, err
	}

	var best int64
	var bestLeft, bestRight uint32
	pos := len(right) - 1
	for i, l := range left {
		if i%cancelCheckEvery == 0 && ctx.Err() != nil {
			return Solution{}, cancelled(ctx)
		}
		// left sums only grow, so the fitting right sum only shrinks
		rest := target - l.sum
		for pos >= 0 && right[pos].sum > rest {
			pos--
		}
		if pos < 0 {
			break
		}
		if total := l.sum + right[pos].sum; total > best {
			best = total
			bestLeft = l.mask
			bestRight = right[pos].mask
			if best == target {
				break
			}
		}
	}

	chosen := make([]int, 0, len(pooled))
	for i := 0; i < mid; i++ {
		if bestLeft&(1<<uint(i)) != 0 {
			chosen = append(chosen, pool[i])
		}
	}
	for i := 0; i < len(pooled)-mid; i++ {
		if bestRight&(1<<uint(i)) != 0 {
			chosen = append(chosen, pool[mid+i])
		}
	}
	sort.Ints(chosen)

	return Solution{
		Sum:       best,
		Indices:   chosen,
		PoolSize:  len(pool),
		Truncated: len(pool) < len(values),
	}, nil
}

// ValidatePoolLimit checks a configured pool limit; 0 is accepted as default.
func ValidatePoolLimit(limit int) error {
	_, err := resolvePoolLimit(limit)
	return err
}

func resolvePoolLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultPoolLimit, nil
	}
	if limit < 0 || limit > MaxPoolLimit {
		return 0, errors.ConfigurationError(errors.CodeInvalidPoolLimit, "pool_limit", limit, nil)
	}
	if limit > DefaultPoolLimit {
		logger.WithComponent("subsetsum").WithField("pool_limit", limit).
			Warn("Pool limit above 44; each half enumerates more than 4M sums")
	}
	return limit, nil
}

// selectPool ranks the candidates and keeps the first limit positions.
func selectPool(values []int64, priority []float64, limit int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if priority != nil && priority[ia] != priority[ib] {
			return priority[ia] > priority[ib]
		}
		return values[ia] > values[ib]
	})

	if len(idx) > limit {
		idx = idx[:limit]
	}
	return idx
}

// enumerate lists every subset sum of half that does not exceed target,
// ordered by (sum, mask). Adding item i merges the sums without it and the
// same sums shifted by its value; both runs are already in order.
func enumerate(ctx context.Context, half []int64, target int64) ([]partial, error) {
	size := 1 << uint(min(len(half), 16))
	sums := make([]partial, 1, size)
	next := make([]partial, 0, size)
	var steps int

	for i, v := range half {
		bit := uint32(1) << uint(i)

		// sums is sorted, so the shifted run stops at the first overflow
		shifted := sort.Search(len(sums), func(k int) bool { return sums[k].sum > target-v })

		next = next[:0]
		j, k := 0, 0
		for j < len(sums) || k < shifted {
			if steps++; steps%cancelCheckEvery == 0 && ctx.Err() != nil {
				return nil, cancelled(ctx)
			}
			if k < shifted {
				add := partial{sum: sums[k].sum + v, mask: sums[k].mask | bit}
				if j == len(sums) || add.less(sums[j]) {
					next = append(next, add)
					k++
					continue
				}
			}
			next = append(next, sums[j])
			j++
		}
		sums, next = next, sums
	}
	return sums, nil
}

func (p partial) less(o partial) bool {
	if p.sum != o.sum {
		return p.sum < o.sum
	}
	return p.mask < o.mask
}

func cancelled(ctx context.Context) error {
	return errors.ReconciliationError(errors.CodeSearchCancelled, "subset search", ctx.Err())
}
