package reconciler

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
)

// ImpactRow is one non-included earning and its weight on the group total
type ImpactRow struct {
	Group  models.GroupKey `json:"group"`
	Label  string          `json:"label"`
	Origin models.Origin   `json:"origin"`
	Value  decimal.Decimal `json:"value"`
	// ImpactPct is value / known total * 100; nil when the total is unknown
	ImpactPct *float64 `json:"impact_pct"`
}

// ImpactMap lists the earnings left out of the base of every group, largest first within a group
func (s *Service) ImpactMap(groups []models.Group) []ImpactRow {
	var rows []ImpactRow
	for _, g := range groups {
		items := append([]models.LineItem(nil), g.Items...)
		s.classifier.Apply(items)

		start := len(rows)
		for _, it := range items {
			if it.Kind != models.KindEarning || it.Origin == models.OriginIncluded {
				continue
			}
			rows = append(rows, impactRow(g.Key, it.Label, it.Origin, it.Value, g.KnownTotal))
		}
		group := rows[start:]
		sort.SliceStable(group, func(a, b int) bool { return group[a].Value.GreaterThan(group[b].Value) })
	}
	return rows
}

// ReturnedImpacts rebuilds the impact rows of the returned items from stored
// results, for radars computed without the original groups
func ReturnedImpacts(results []*models.ReconciliationResult) []ImpactRow {
	var rows []ImpactRow
	for _, r := range results {
		for _, c := range r.ChosenCandidates {
			rows = append(rows, impactRow(r.Group, c.Label, c.Origin, c.Value, r.KnownTotal))
		}
	}
	return rows
}

func impactRow(key models.GroupKey, label string, origin models.Origin, value decimal.Decimal, total *decimal.Decimal) ImpactRow {
	row := ImpactRow{Group: key, Label: label, Origin: origin, Value: value}
	if total != nil && total.IsPositive() {
		pct, _ := value.Div(*total).Mul(decimal.NewFromInt(100)).Float64()
		row.ImpactPct = &pct
	}
	return row
}

// RadarRow summarizes how often a rubric had to be returned into the base
type RadarRow struct {
	Segment         models.Segment  `json:"segment"`
	Label           string          `json:"label"`
	PeriodsReturned int             `json:"periods_returned"`
	TotalPeriods    int             `json:"total_periods"`
	RecurrencePct   float64         `json:"recurrence_pct"`
	TotalReturned   decimal.Decimal `json:"total_returned"`
	MeanReturned    decimal.Decimal `json:"mean_returned"`
	MeanImpactPct   *float64        `json:"mean_impact_pct"`
	MaxImpactPct    *float64        `json:"max_impact_pct"`
	Origin          models.Origin   `json:"origin"`
	RiskScore       *float64        `json:"risk_score"`
}

type radarKey struct {
	segment models.Segment
	label   string
}

type radarAcc struct {
	label   string
	periods map[string]struct{}
	total   decimal.Decimal
	origins map[models.Origin]int
	impacts []float64
}

// Radar aggregates returned rubrics across periods. Labels are grouped after
// normalization, so "Diárias" and "DIARIAS" count as one rubric. Impacts are
// optional and only used for the periods in which the rubric was returned.
func Radar(results []*models.ReconciliationResult, impacts []ImpactRow) []RadarRow {
	periods := make(map[models.Segment]map[string]struct{})
	for _, r := range results {
		if periods[r.Group.Segment] == nil {
			periods[r.Group.Segment] = make(map[string]struct{})
		}
		periods[r.Group.Segment][r.Group.Period] = struct{}{}
	}

	type impactKey struct {
		radarKey
		period string
	}
	impactBy := make(map[impactKey][]float64)
	for _, row := range impacts {
		if row.ImpactPct == nil {
			continue
		}
		k := impactKey{radarKey{row.Group.Segment, classifier.Normalize(row.Label)}, row.Group.Period}
		impactBy[k] = append(impactBy[k], *row.ImpactPct)
	}

	acc := make(map[radarKey]*radarAcc)
	var order []radarKey
	for _, r := range results {
		for _, c := range r.ChosenCandidates {
			k := radarKey{r.Group.Segment, classifier.Normalize(c.Label)}
			a, ok := acc[k]
			if !ok {
				a = &radarAcc{
					label:   c.Label,
					periods: make(map[string]struct{}),
					origins: make(map[models.Origin]int),
				}
				acc[k] = a
				order = append(order, k)
			}
			if _, seen := a.periods[r.Group.Period]; !seen {
				a.impacts = append(a.impacts, impactBy[impactKey{k, r.Group.Period}]...)
			}
			a.periods[r.Group.Period] = struct{}{}
			a.total = a.total.Add(c.Value)
			a.origins[c.Origin]++
		}
	}

	rows := make([]RadarRow, 0, len(order))
	for _, k := range order {
		a := acc[k]
		total := len(periods[k.segment])
		returned := len(a.periods)
		row := RadarRow{
			Segment:         k.segment,
			Label:           a.label,
			PeriodsReturned: returned,
			TotalPeriods:    total,
			RecurrencePct:   float64(returned) / float64(total) * 100,
			TotalReturned:   a.total,
			MeanReturned:    a.total.DivRound(decimal.NewFromInt(int64(returned)), 2),
			Origin:          mostCommon(a.origins),
		}
		if len(a.impacts) > 0 {
			var sum, peak float64
			for _, v := range a.impacts {
				sum += v
				if v > peak {
					peak = v
				}
			}
			mean := sum / float64(len(a.impacts))
			score := row.RecurrencePct * mean
			row.MeanImpactPct = &mean
			row.MaxImpactPct = &peak
			row.RiskScore = &score
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool { return radarLess(rows[i], rows[j]) })
	return rows
}

// radarLess orders by score, recurrence, impact and total, all descending;
// rows without a score go last
func radarLess(a, b RadarRow) bool {
	if (a.RiskScore == nil) != (b.RiskScore == nil) {
		return a.RiskScore != nil
	}
	if a.RiskScore != nil && *a.RiskScore != *b.RiskScore {
		return *a.RiskScore > *b.RiskScore
	}
	if a.RecurrencePct != b.RecurrencePct {
		return a.RecurrencePct > b.RecurrencePct
	}
	if a.MeanImpactPct != nil && b.MeanImpactPct != nil && *a.MeanImpactPct != *b.MeanImpactPct {
		return *a.MeanImpactPct > *b.MeanImpactPct
	}
	return a.TotalReturned.GreaterThan(b.TotalReturned)
}

func mostCommon(counts map[models.Origin]int) models.Origin {
	var best models.Origin
	for _, o := range []models.Origin{models.OriginExcluded, models.OriginAmbiguous, models.OriginIncluded, ""} {
		if n, ok := counts[o]; ok && (best == "" || n > counts[best]) {
			best = o
		}
	}
	return best
}

// RecurrenceBySegment turns radar rows into the priorities used by the
// recurrence pool policy, keyed by normalized label
func RecurrenceBySegment(rows []RadarRow) map[models.Segment]map[string]float64 {
	out := make(map[models.Segment]map[string]float64)
	for _, r := range rows {
		if out[r.Segment] == nil {
			out[r.Segment] = make(map[string]float64)
		}
		out[r.Segment][classifier.Normalize(r.Label)] = r.RecurrencePct
	}
	return out
}

// StaticRecurrence serves fixed recurrence figures, typically computed by
// Radar over an earlier batch
type StaticRecurrence map[models.Segment]map[string]float64

// Recurrence implements RecurrenceSource
func (s StaticRecurrence) Recurrence(_ context.Context, segment models.Segment) (map[string]float64, error) {
	return s[segment], nil
}
