package reconciler

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func candidates(origin models.Origin, values ...string) []models.Candidate {
	out := make([]models.Candidate, len(values))
	for i, v := range values {
		out[i] = models.NewCandidate("rubrica "+v, dec(v), origin)
	}
	return out
}

var payrollCandidates = []string{
	"6202.87", "24006.04", "18608.38", "1074.01", "28506.40", "32175.44", "6096.98",
	"850.00", "30134.10", "728.16", "610.48", "1813.33", "7507.49", "19486.26",
	"300.00", "1500.00", "4077.33", "8286.49", "813.00", "186.30",
}

func TestReconcilePayrollGap(t *testing.T) {
	result, err := Reconcile(context.Background(), Request{
		CurrentBase: dec("80000.00"),
		Target:      decp("98834.04"),
		Candidates:  candidates(models.OriginExcluded, payrollCandidates...),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateApproximated, result.State)
	assert.True(t, result.Gap.Equal(dec("18834.04")))
	assert.True(t, result.ApproximatedBase.Equal(dec("98831.80")), "got %s", result.ApproximatedBase)
	assert.True(t, result.ResidualError.Equal(dec("2.24")), "got %s", result.ResidualError)
	assert.True(t, result.ReturnedSum().Equal(dec("18831.80")))
	assert.Equal(t, 20, result.PoolSize)
	assert.False(t, result.Truncated)

	for i := 1; i < len(result.ChosenCandidates); i++ {
		assert.True(t, result.ChosenCandidates[i-1].Value.GreaterThanOrEqual(result.ChosenCandidates[i].Value),
			"chosen candidates are reported largest first")
	}
}

func TestReconcileSatisfied(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		residual string
	}{
		{"exact", "50000.00", "50000.00", "0"},
		{"over satisfied", "60000.00", "50000.00", "-10000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Reconcile(context.Background(), Request{
				CurrentBase: dec(tt.base),
				Target:      decp(tt.target),
				Candidates:  candidates(models.OriginExcluded, "100.00", "200.00"),
			})
			require.NoError(t, err)

			assert.Equal(t, models.StateSatisfied, result.State)
			assert.Empty(t, result.ChosenCandidates)
			assert.True(t, result.ResidualError.Equal(dec(tt.residual)), "got %s", result.ResidualError)
			assert.True(t, result.ApproximatedBase.Equal(dec(tt.base)))
			assert.Zero(t, result.PoolSize, "search must not run")
		})
	}
}

func TestReconcileNoTarget(t *testing.T) {
	result, err := Reconcile(context.Background(), Request{
		CurrentBase: dec("12345.67"),
		Candidates:  candidates(models.OriginExcluded, "100.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateNoTarget, result.State)
	assert.Nil(t, result.Gap)
	assert.Nil(t, result.ResidualError)
	assert.True(t, result.ApproximatedBase.Equal(dec("12345.67")))
	assert.Empty(t, result.ChosenCandidates)
}

func TestReconcileCannotReachTarget(t *testing.T) {
	result, err := Reconcile(context.Background(), Request{
		CurrentBase: decimal.Zero,
		Target:      decp("100.00"),
		Candidates:  candidates(models.OriginAmbiguous, "30.00", "30.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateApproximated, result.State)
	assert.True(t, result.ApproximatedBase.Equal(dec("60.00")))
	assert.True(t, result.ResidualError.Equal(dec("40.00")))
	assert.Len(t, result.ChosenCandidates, 2)
}

func TestReconcileEmptyPool(t *testing.T) {
	result, err := Reconcile(context.Background(), Request{
		CurrentBase: dec("10.00"),
		Target:      decp("100.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateApproximated, result.State)
	assert.True(t, result.ResidualError.Equal(dec("90.00")))
	assert.Empty(t, result.ChosenCandidates)
}

func TestReconcilePoolTruncation(t *testing.T) {
	// 3.00 would give a tighter fit but falls outside a pool of two
	result, err := Reconcile(context.Background(), Request{
		Target:     decp("44.00"),
		Candidates: candidates(models.OriginExcluded, "3.00", "50.00", "40.00"),
		PoolLimit:  2,
	})
	require.NoError(t, err)

	require.Len(t, result.ChosenCandidates, 1)
	assert.True(t, result.ChosenCandidates[0].Value.Equal(dec("40.00")))
	assert.True(t, result.ResidualError.Equal(dec("4.00")))
	assert.True(t, result.Truncated)
	assert.Equal(t, 3, result.EligibleCount)
	assert.Equal(t, 2, result.PoolSize)
}

func TestReconcileEligibility(t *testing.T) {
	cands := []models.Candidate{
		models.NewCandidate("Salário", dec("500.00"), models.OriginIncluded),
		models.NewCandidate("Diárias", dec("300.00"), models.OriginExcluded),
		models.NewCandidate("Bônus", dec("200.00"), models.OriginAmbiguous),
		models.NewCandidate("Zero", decimal.Zero, models.OriginExcluded),
		models.NewCandidate("Sem origem", dec("1.00"), ""),
	}

	result, err := Reconcile(context.Background(), Request{
		Target:          decp("700.00"),
		Candidates:      cands,
		EligibleOrigins: []models.Origin{models.OriginExcluded, models.OriginAmbiguous},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.EligibleCount)
	assert.True(t, result.ApproximatedBase.Equal(dec("501.00")))
	for _, c := range result.ChosenCandidates {
		assert.NotEqual(t, models.OriginIncluded, c.Origin)
	}

	// no restriction: every origin may be returned
	result, err = Reconcile(context.Background(), Request{Target: decp("700.00"), Candidates: cands})
	require.NoError(t, err)
	assert.Equal(t, 4, result.EligibleCount)
	assert.True(t, result.ApproximatedBase.Equal(dec("700.00")))
}

func TestReconcileInvalidInput(t *testing.T) {
	ctx := context.Background()

	_, err := Reconcile(ctx, Request{Target: decp("-1.00")})
	assert.True(t, errors.HasCode(err, errors.CodeNegativeTarget))

	_, err = Reconcile(ctx, Request{
		Target:     decp("100.00"),
		Candidates: candidates(models.OriginExcluded, "10.00", "-5.00"),
	})
	assert.True(t, errors.HasCode(err, errors.CodeNegativeAmount))

	// negative values are rejected even when the search would not run
	_, err = Reconcile(ctx, Request{Candidates: candidates(models.OriginExcluded, "-5.00")})
	assert.True(t, errors.HasCode(err, errors.CodeNegativeAmount))

	_, err = Reconcile(ctx, Request{Target: decp("1.00"), PoolLimit: 61})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidPoolLimit))

	_, err = Reconcile(ctx, Request{
		Target:     decp("1.00"),
		Candidates: candidates(models.OriginExcluded, "1.00"),
		Priority:   []float64{1, 2},
	})
	assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))
}

func TestReconcileDeterministic(t *testing.T) {
	req := Request{
		CurrentBase: dec("80000.00"),
		Target:      decp("98834.04"),
		Candidates:  candidates(models.OriginExcluded, payrollCandidates...),
	}

	first, err := Reconcile(context.Background(), req)
	require.NoError(t, err)
	second, err := Reconcile(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReconcileSubCentGap(t *testing.T) {
	result, err := Reconcile(context.Background(), Request{
		Target:     decp("0.015"),
		Candidates: candidates(models.OriginExcluded, "0.01", "0.02"),
	})
	require.NoError(t, err)

	assert.True(t, result.ApproximatedBase.Equal(dec("0.01")))
	assert.False(t, result.ResidualError.IsNegative())
}

func TestReconcileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	values := make([]string, 44)
	for i := range values {
		values[i] = decimal.NewFromInt(int64(1000 + i*7)).String()
	}
	_, err := Reconcile(ctx, Request{
		Target:     decp("999999.00"),
		Candidates: candidates(models.OriginExcluded, values...),
	})
	assert.True(t, errors.HasCode(err, errors.CodeSearchCancelled))
}

func TestBandsClassify(t *testing.T) {
	b := DefaultBands()

	tests := []struct {
		residual *decimal.Decimal
		want     models.QualityStatus
	}{
		{decp("0"), models.StatusOK},
		{decp("10.00"), models.StatusOK},
		{decp("-10.00"), models.StatusOK},
		{decp("10.01"), models.StatusAcceptable},
		{decp("10000.00"), models.StatusAcceptable},
		{decp("-10000.01"), models.StatusPoor},
		{nil, models.StatusNoResidual},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.residual != nil {
			name = tt.residual.String()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Classify(tt.residual))
		})
	}

	assert.Error(t, Bands{OK: dec("20"), Acceptable: dec("10")}.Validate())
	assert.NoError(t, b.Validate())
}

func TestBandsGrade(t *testing.T) {
	b := DefaultBands()

	r := &models.ReconciliationResult{State: models.StateNoTarget}
	b.Grade(r)
	assert.Equal(t, models.StatusNoTarget, r.Status)
	assert.Equal(t, models.SignalYellow, r.Signal)

	r = &models.ReconciliationResult{State: models.StateApproximated, ResidualError: decp("2.24")}
	b.Grade(r)
	assert.Equal(t, models.StatusOK, r.Status)
	assert.Equal(t, models.SignalGreen, r.Signal)

	r = &models.ReconciliationResult{
		State:          models.StateApproximated,
		ResidualError:  decp("0"),
		TotalsMismatch: decp("-100.00"),
	}
	b.Grade(r)
	assert.Equal(t, models.StatusExtractionMismatch, r.Status)
	assert.Equal(t, models.SignalRed, r.Signal)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		code   errors.ErrorCode
	}{
		{"pool limit", func(c *Config) { c.PoolLimit = 100 }, errors.CodeInvalidPoolLimit},
		{"pool policy", func(c *Config) { c.PoolPolicy = "random" }, errors.CodeInvalidConfig},
		{"origin", func(c *Config) { c.EligibleOrigins = []models.Origin{"TALVEZ"} }, errors.CodeInvalidConfig},
		{"bands", func(c *Config) { c.Bands.OK = dec("-1") }, errors.CodeInvalidBands},
		{"workers", func(c *Config) { c.Workers = 0 }, errors.CodeInvalidConfig},
		{"tolerance", func(c *Config) { c.InconsistencyTolerance = dec("-0.01") }, errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg.Clone()
			tt.modify(c)
			assert.True(t, errors.HasCode(c.Validate(), tt.code))
		})
	}

	policy, err := ParsePoolPolicy(" Recurrence ")
	require.NoError(t, err)
	assert.Equal(t, PoolByRecurrence, policy)
}
