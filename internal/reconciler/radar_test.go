package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
)

func pct(v float64) *float64 {
	return &v
}

func returned(period string, segment models.Segment, chosen ...models.Candidate) *models.ReconciliationResult {
	return &models.ReconciliationResult{
		Group:            models.GroupKey{Period: period, Segment: segment},
		State:            models.StateApproximated,
		ChosenCandidates: chosen,
	}
}

func TestImpactMap(t *testing.T) {
	svc := newTestService(t, nil)

	rows := svc.ImpactMap([]models.Group{payrollGroup("01/2024", "1000.00", "900.00")})

	require.Len(t, rows, 2)
	assert.Equal(t, "Diárias", rows[0].Label)
	assert.InDelta(t, 20.0, *rows[0].ImpactPct, 1e-9)
	assert.Equal(t, "Vale Transporte", rows[1].Label)
	assert.Equal(t, models.OriginExcluded, rows[1].Origin)
	assert.InDelta(t, 10.0, *rows[1].ImpactPct, 1e-9)

	rows = svc.ImpactMap([]models.Group{payrollGroup("01/2024", "", "")})
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].ImpactPct)
}

func TestRadar(t *testing.T) {
	diarias := models.NewCandidate("Diárias", dec("200.00"), models.OriginExcluded)
	bonus := models.NewCandidate("Bônus", dec("100.00"), models.OriginAmbiguous)

	results := []*models.ReconciliationResult{
		returned("01/2024", models.SegmentActive, diarias, bonus),
		returned("02/2024", models.SegmentActive, models.NewCandidate("DIARIAS", dec("300.00"), models.OriginExcluded)),
		returned("03/2024", models.SegmentActive),
		returned("01/2024", models.SegmentTerminated, models.NewCandidate("Multa", dec("50.00"), models.OriginExcluded)),
	}
	impacts := []ImpactRow{
		{Group: models.GroupKey{Period: "01/2024", Segment: models.SegmentActive}, Label: "Diárias", ImpactPct: pct(20)},
		{Group: models.GroupKey{Period: "02/2024", Segment: models.SegmentActive}, Label: "Diarias", ImpactPct: pct(30)},
		{Group: models.GroupKey{Period: "03/2024", Segment: models.SegmentActive}, Label: "Diárias", ImpactPct: pct(90)},
		{Group: models.GroupKey{Period: "01/2024", Segment: models.SegmentActive}, Label: "Bônus", ImpactPct: pct(10)},
	}

	rows := Radar(results, impacts)
	require.Len(t, rows, 3)

	first := rows[0]
	assert.Equal(t, "Diárias", first.Label)
	assert.Equal(t, 2, first.PeriodsReturned)
	assert.Equal(t, 3, first.TotalPeriods)
	assert.InDelta(t, 66.6667, first.RecurrencePct, 1e-3)
	assert.True(t, first.TotalReturned.Equal(dec("500.00")))
	assert.True(t, first.MeanReturned.Equal(dec("250.00")))
	assert.InDelta(t, 25.0, *first.MeanImpactPct, 1e-9, "impact of a period without return is ignored")
	assert.InDelta(t, 30.0, *first.MaxImpactPct, 1e-9)
	assert.Equal(t, models.OriginExcluded, first.Origin)

	assert.Equal(t, "Bônus", rows[1].Label)
	assert.Equal(t, models.OriginAmbiguous, rows[1].Origin)

	last := rows[2]
	assert.Equal(t, "Multa", last.Label)
	assert.Equal(t, models.SegmentTerminated, last.Segment)
	assert.InDelta(t, 100.0, last.RecurrencePct, 1e-9)
	assert.Nil(t, last.RiskScore, "rows without impact go last")

	recurrence := RecurrenceBySegment(rows)
	assert.InDelta(t, 66.6667, recurrence[models.SegmentActive]["diarias"], 1e-3)
	assert.InDelta(t, 100.0, recurrence[models.SegmentTerminated]["multa"], 1e-9)
}

func TestReturnedImpacts(t *testing.T) {
	withTotal := returned("01/2024", models.SegmentActive,
		models.NewCandidate("Diárias", dec("250.00"), models.OriginAmbiguous))
	withTotal.KnownTotal = decp("1000.00")
	withoutTotal := returned("02/2024", models.SegmentActive,
		models.NewCandidate("Diárias", dec("100.00"), models.OriginAmbiguous))

	rows := ReturnedImpacts([]*models.ReconciliationResult{withTotal, withoutTotal})
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].ImpactPct)
	assert.InDelta(t, 25.0, *rows[0].ImpactPct, 1e-9)
	assert.Nil(t, rows[1].ImpactPct)

	radar := Radar([]*models.ReconciliationResult{withTotal, withoutTotal}, rows)
	require.Len(t, radar, 1)
	assert.InDelta(t, 25.0, *radar[0].MeanImpactPct, 1e-9)
}
