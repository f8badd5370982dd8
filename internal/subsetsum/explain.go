package subsetsum

import "sort"

// DefaultExplainItems caps how many items a short explanation may use.
const DefaultExplainItems = 6

// Explanation is a short combination drawn from a winning subset.
type Explanation struct {
	// Indices are positions in the original values slice, largest value first.
	Indices []int
	// Sum of the explanation items.
	Sum int64
	// Omitted is the winning sum minus Sum.
	Omitted int64
}

// Explain returns the fewest items of chosen, at most maxItems, whose sum is
// within tolerance cents of the whole chosen sum. Every proper subset sums to
// less than the whole, so for any size k the best combination is the k
// largest items; ties keep the lower index. It reports false when even the
// maxItems largest items leave more than tolerance unexplained.
func Explain(values []int64, chosen []int, tolerance int64, maxItems int) (Explanation, bool) {
	if len(chosen) == 0 {
		return Explanation{}, false
	}
	if maxItems <= 0 {
		maxItems = DefaultExplainItems
	}
	if tolerance < 0 {
		tolerance = 0
	}

	order := append([]int(nil), chosen...)
	sort.SliceStable(order, func(a, b int) bool {
		if values[order[a]] != values[order[b]] {
			return values[order[a]] > values[order[b]]
		}
		return order[a] < order[b]
	})

	var total int64
	for _, idx := range order {
		total += values[idx]
	}

	var sum int64
	for k, idx := range order {
		if k == maxItems {
			break
		}
		sum += values[idx]
		if total-sum <= tolerance {
			return Explanation{
				Indices: append([]int(nil), order[:k+1]...),
				Sum:     sum,
				Omitted: total - sum,
			}, true
		}
	}
	return Explanation{}, false
}
