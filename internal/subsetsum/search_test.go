package subsetsum

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// payroll amounts in cents
var scenarioValues = []int64{
	620287, 2400604, 1860838, 107401, 2850640, 3217544, 609698, 85000, 3013410, 72816,
	61048, 181333, 750749, 1948626, 30000, 150000, 407733, 828649, 81300, 18630,
}

func bruteForceBest(values []int64, target int64) int64 {
	var best int64
	n := len(values)
	for mask := 0; mask < 1<<uint(n); mask++ {
		var s int64
		for i := 0; i < n; i++ {
			if mask&(1<<uint(i)) != 0 {
				s += values[i]
			}
		}
		if s <= target && s > best {
			best = s
		}
	}
	return best
}

func sumOf(values []int64, idx []int) int64 {
	var s int64
	for _, i := range idx {
		s += values[i]
	}
	return s
}

func TestSearchPayrollGap(t *testing.T) {
	target := int64(1883404)

	sol, err := Search(scenarioValues, target, Options{})
	require.NoError(t, err)

	assert.Equal(t, int64(1883180), sol.Sum)
	assert.Equal(t, bruteForceBest(scenarioValues, target), sol.Sum)
	assert.Equal(t, sol.Sum, sumOf(scenarioValues, sol.Indices))
	assert.Equal(t, int64(224), sol.Shortfall(target))
	assert.Equal(t, len(scenarioValues), sol.PoolSize)
	assert.False(t, sol.Truncated)
	assert.IsIncreasing(t, sol.Indices)
}

func TestSearchCannotReachTarget(t *testing.T) {
	sol, err := Search([]int64{3000, 3000}, 10000, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), sol.Sum)
	assert.Equal(t, []int{0, 1}, sol.Indices)
}

func TestSearchEmptyCases(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		target int64
	}{
		{"no values", nil, 100},
		{"zero target", []int64{1, 2}, 0},
		{"negative target", []int64{1, 2}, -5},
		{"all above target", []int64{500, 700}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol, err := Search(tt.values, tt.target, Options{})
			require.NoError(t, err)
			assert.Zero(t, sol.Sum)
			assert.Empty(t, sol.Indices)
		})
	}
}

func TestSearchRejectsInvalidInput(t *testing.T) {
	_, err := Search([]int64{10, -1}, 5, Options{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNegativeAmount))

	_, err = Search([]int64{10}, 5, Options{PoolLimit: MaxPoolLimit + 1})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPoolLimit))

	_, err = Search([]int64{10}, 5, Options{PoolLimit: -1})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPoolLimit))

	_, err = Search([]int64{10, 20}, 5, Options{Priority: []float64{1}})
	assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))

	assert.NoError(t, ValidatePoolLimit(0))
	assert.NoError(t, ValidatePoolLimit(44))
}

func TestSearchMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(14) + 1
		values := make([]int64, n)
		var total int64
		for i := range values {
			values[i] = rng.Int63n(50000)
			total += values[i]
		}
		target := rng.Int63n(total + 1)

		sol, err := Search(values, target, Options{})
		require.NoError(t, err)

		assert.LessOrEqual(t, sol.Sum, target, "round %d", round)
		assert.Equal(t, bruteForceBest(values, target), sol.Sum, "round %d values %v target %d", round, values, target)
		assert.Equal(t, sol.Sum, sumOf(values, sol.Indices), "round %d", round)
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	values := []int64{500, 500, 300, 200, 200, 100, 100, 100}
	first, err := Search(values, 1000, Options{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Search(values, 1000, Options{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearchAddingCandidateNeverLowersSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	target := int64(1883404)

	var values []int64
	var previous int64
	for i := 0; i < 30; i++ {
		values = append(values, rng.Int63n(900000)+1)
		sol, err := Search(values, target, Options{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sol.Sum, previous, "after %d candidates", len(values))
		previous = sol.Sum
	}
}

func TestSearchPoolKeepsLargest(t *testing.T) {
	// The exact fit needs the 1-cent item, which falls outside a pool of 4.
	values := []int64{1, 1000, 900, 800, 700}

	sol, err := Search(values, 1701, Options{PoolLimit: 4})
	require.NoError(t, err)
	assert.True(t, sol.Truncated)
	assert.Equal(t, 4, sol.PoolSize)
	assert.Equal(t, int64(1700), sol.Sum)
	assert.NotContains(t, sol.Indices, 0)

	full, err := Search(values, 1701, Options{PoolLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1701), full.Sum)
	assert.Contains(t, full.Indices, 0)
}

func TestSearchPoolTieBreakKeepsEarlierPosition(t *testing.T) {
	values := []int64{100, 50, 100, 100}

	sol, err := Search(values, 200, Options{PoolLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, sol.Indices)
}

func TestSearchPriorityPool(t *testing.T) {
	values := []int64{1000, 900, 10, 5}
	priority := []float64{0, 0, 80, 60}

	sol, err := Search(values, 15, Options{PoolLimit: 2, Priority: priority})
	require.NoError(t, err)
	assert.Equal(t, int64(15), sol.Sum)
	assert.Equal(t, []int{2, 3}, sol.Indices)

	byMagnitude, err := Search(values, 15, Options{PoolLimit: 2})
	require.NoError(t, err)
	assert.Zero(t, byMagnitude.Sum)
}

func TestSearchLargePoolStaysWithinTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	values := make([]int64, 120)
	for i := range values {
		values[i] = rng.Int63n(2000000) + 100
	}

	sol, err := Search(values, 5000000, Options{PoolLimit: 24})
	require.NoError(t, err)
	assert.LessOrEqual(t, sol.Sum, int64(5000000))
	assert.Equal(t, 24, sol.PoolSize)
	assert.True(t, sol.Truncated)
}

func TestSearchContextCancelled(t *testing.T) {
	values := make([]int64, 40)
	for i := range values {
		values[i] = int64(i + 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SearchContext(ctx, values, 1<<40, Options{PoolLimit: 40})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeSearchCancelled))
}

func TestExplain(t *testing.T) {
	values := []int64{1000, 10, 5000, 20, 3000}
	chosen := []int{0, 1, 2, 3, 4}

	exp, ok := Explain(values, chosen, 50, 6)
	require.True(t, ok)
	assert.Equal(t, []int{2, 4, 0}, exp.Indices)
	assert.Equal(t, int64(9000), exp.Sum)
	assert.Equal(t, int64(30), exp.Omitted)

	exact, ok := Explain(values, chosen, 0, 6)
	require.True(t, ok)
	assert.Len(t, exact.Indices, 5)
	assert.Zero(t, exact.Omitted)

	_, ok = Explain(values, chosen, 0, 2)
	assert.False(t, ok)

	_, ok = Explain(values, nil, 100, 6)
	assert.False(t, ok)
}

func TestExplainTieKeepsLowerIndex(t *testing.T) {
	values := []int64{700, 700, 1}
	exp, ok := Explain(values, []int{2, 1, 0}, 701, 6)
	require.True(t, ok)
	assert.Equal(t, []int{0}, exp.Indices)
}

func TestEnumerateOrdersBySumThenMask(t *testing.T) {
	half := []int64{300, 100, 200, 100, 500}

	sums, err := enumerate(context.Background(), half, 600)
	require.NoError(t, err)

	seen := map[uint32]bool{}
	for i, p := range sums {
		assert.LessOrEqual(t, p.sum, int64(600))
		assert.False(t, seen[p.mask], "mask %b listed twice", p.mask)
		seen[p.mask] = true

		var s int64
		for b := range half {
			if p.mask&(1<<uint(b)) != 0 {
				s += half[b]
			}
		}
		assert.Equal(t, s, p.sum, "mask %b", p.mask)
		if i > 0 {
			assert.True(t, sums[i-1].less(p), "%v before %v", sums[i-1], p)
		}
	}

	var fitting int
	for mask := 0; mask < 1<<uint(len(half)); mask++ {
		var s int64
		for b := range half {
			if mask&(1<<uint(b)) != 0 {
				s += half[b]
			}
		}
		if s <= 600 {
			fitting++
		}
	}
	assert.Len(t, sums, fitting)
}

func payrollPool(n int) []int64 {
	rng := rand.New(rand.NewSource(44))
	values := make([]int64, n)
	for i := range values {
		values[i] = rng.Int63n(5000000) + 100
	}
	return values
}

// BenchmarkSearch runs the default pool against a target above the total,
// so nothing is pruned and the search cannot stop early.
func BenchmarkSearch(b *testing.B) {
	values := payrollPool(DefaultPoolLimit)
	var total int64
	for _, v := range values {
		total += v
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sol, err := Search(values, total+1, Options{})
		if err != nil {
			b.Fatal(err)
		}
		if sol.Sum != total {
			b.Fatalf("expected %d, got %d", total, sol.Sum)
		}
	}
}
