package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
)

// State is the terminal state of one reconciliation
type State string

const (
	// StateNoTarget means no authoritative base was available
	StateNoTarget State = "NO_TARGET"
	// StateSatisfied means the current base already reaches the target
	StateSatisfied State = "SATISFIED"
	// StateApproximated means candidates were returned to approach the target
	StateApproximated State = "APPROXIMATED"
)

// QualityStatus is the band a residual falls in
type QualityStatus string

const (
	StatusOK                 QualityStatus = "OK"
	StatusAcceptable         QualityStatus = "ACEITAVEL"
	StatusPoor               QualityStatus = "RUIM"
	StatusNoTarget           QualityStatus = "INCOMPLETO_BASE"
	StatusNoResidual         QualityStatus = "SEM_ERRO"
	StatusExtractionMismatch QualityStatus = "FALHA_EXTRACAO_TOTALIZADOR"
)

// Signal is the traffic light shown next to a status
type Signal string

const (
	SignalGreen  Signal = "green"
	SignalYellow Signal = "yellow"
	SignalRed    Signal = "red"
)

// Signal returns green for OK, red for poor or broken extractions and yellow otherwise
func (s QualityStatus) Signal() Signal {
	switch s {
	case StatusOK:
		return SignalGreen
	case StatusPoor, StatusExtractionMismatch:
		return SignalRed
	default:
		return SignalYellow
	}
}

// Emoji is used by the console report
func (s Signal) Emoji() string {
	switch s {
	case SignalGreen:
		return "🟢"
	case SignalRed:
		return "🔴"
	default:
		return "🟡"
	}
}

// Explanation lists the few largest returned items that account for most of
// the returned amount
type Explanation struct {
	Items   []Candidate     `json:"items"`
	Sum     decimal.Decimal `json:"sum"`
	Omitted decimal.Decimal `json:"omitted"`
}

// ReconciliationResult is the outcome for one group
type ReconciliationResult struct {
	Group            GroupKey         `json:"group"`
	State            State            `json:"state"`
	CurrentBase      decimal.Decimal  `json:"current_base"`
	Target           *decimal.Decimal `json:"target"`
	Gap              *decimal.Decimal `json:"gap"`
	ApproximatedBase decimal.Decimal  `json:"approximated_base"`
	ResidualError    *decimal.Decimal `json:"residual_error"`
	ChosenCandidates []Candidate      `json:"chosen_candidates"`

	EligibleCount int  `json:"eligible_count"`
	PoolSize      int  `json:"pool_size"`
	Truncated     bool `json:"truncated"`

	Explanation *Explanation `json:"explanation,omitempty"`

	KnownTotal     *decimal.Decimal `json:"known_total,omitempty"`
	IncidenceIndex *decimal.Decimal `json:"incidence_index,omitempty"`
	GrossGap       *decimal.Decimal `json:"gross_gap,omitempty"`
	TotalsMismatch *decimal.Decimal `json:"totals_mismatch,omitempty"`

	Status   QualityStatus `json:"status,omitempty"`
	Signal   Signal        `json:"signal,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// ReturnedSum adds up the chosen candidates
func (r *ReconciliationResult) ReturnedSum() decimal.Decimal {
	sum := decimal.Zero
	for _, c := range r.ChosenCandidates {
		sum = sum.Add(c.Value)
	}
	return sum
}

func (r *ReconciliationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s base=%s", r.Group, r.State, money.FormatBRL(r.CurrentBase))
	if r.Target != nil {
		fmt.Fprintf(&b, " target=%s", money.FormatBRL(*r.Target))
	}
	if r.State == StateApproximated {
		fmt.Fprintf(&b, " approximated=%s returned=%d", money.FormatBRL(r.ApproximatedBase), len(r.ChosenCandidates))
	}
	if r.ResidualError != nil {
		fmt.Fprintf(&b, " residual=%s", money.FormatBRL(*r.ResidualError))
	}
	if r.Status != "" {
		fmt.Fprintf(&b, " [%s]", r.Status)
	}
	return b.String()
}

// DecimalPtr returns a pointer to a copy of d
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
