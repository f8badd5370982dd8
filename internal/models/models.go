package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// Origin is the classification bucket a payroll item came from
type Origin string

const (
	// OriginIncluded items already count towards the base
	OriginIncluded Origin = "ENTRA"
	// OriginAmbiguous items could go either way
	OriginAmbiguous Origin = "NEUTRA"
	// OriginExcluded items were left out of the base
	OriginExcluded Origin = "FORA"
)

func (o Origin) String() string {
	return string(o)
}

// IsValid checks if the origin is one of the known buckets
func (o Origin) IsValid() bool {
	return o == OriginIncluded || o == OriginAmbiguous || o == OriginExcluded
}

// ParseOrigin accepts the bucket names case-insensitively, plus English aliases
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ENTRA", "INCLUDED", "IN":
		return OriginIncluded, nil
	case "NEUTRA", "AMBIGUOUS", "NEUTRAL":
		return OriginAmbiguous, nil
	case "FORA", "EXCLUDED", "OUT":
		return OriginExcluded, nil
	}
	return "", fmt.Errorf("unknown origin %q", s)
}

// ItemKind distinguishes earnings from deductions
type ItemKind string

const (
	KindEarning   ItemKind = "PROVENTO"
	KindDeduction ItemKind = "DESCONTO"
)

// DeductionClass tells how a deduction relates to the base
type DeductionClass string

const (
	DeductionFinancial   DeductionClass = "FINANCEIRO"
	DeductionReducesBase DeductionClass = "REDUZ_BASE"
	DeductionNeutral     DeductionClass = "NEUTRO"
)

// Segment is the employee population a group refers to
type Segment string

const (
	SegmentActive     Segment = "ATIVOS"
	SegmentTerminated Segment = "DESLIGADOS"
	SegmentGlobal     Segment = "GLOBAL"
)

// ParseSegment maps sheet names and labels like "ativos" or "total" to a Segment
func ParseSegment(s string) Segment {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ATIVOS", "ATIVO", "ACTIVE":
		return SegmentActive
	case "DESLIGADOS", "DESLIGADO", "TERMINATED":
		return SegmentTerminated
	case "", "TOTAL", "GLOBAL", "GERAL":
		return SegmentGlobal
	}
	return Segment(strings.ToUpper(strings.TrimSpace(s)))
}

// Candidate is an amount eligible to be returned into the base
type Candidate struct {
	Label  string          `json:"label"`
	Value  decimal.Decimal `json:"value"`
	Origin Origin          `json:"origin_tag,omitempty"`
}

// NewCandidate creates a new Candidate instance
func NewCandidate(label string, value decimal.Decimal, origin Origin) Candidate {
	return Candidate{Label: label, Value: value, Origin: origin}
}

// Validate rejects negative values; zero is allowed and simply never chosen
func (c Candidate) Validate() error {
	if c.Value.IsNegative() {
		return fmt.Errorf("candidate %q has negative value %s", c.Label, c.Value.String())
	}
	return nil
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s=%s (%s)", c.Label, money.FormatBRL(c.Value), c.Origin)
}

// UnmarshalJSON accepts the value as a JSON number or a Brazilian formatted
// string such as "1.234,56". origin_tag goes through ParseOrigin.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	type Alias Candidate
	aux := &struct {
		Value  json.RawMessage `json:"value"`
		Origin string          `json:"origin_tag"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.Origin = ""
	if strings.TrimSpace(aux.Origin) != "" {
		o, err := ParseOrigin(aux.Origin)
		if err != nil {
			return errors.ValidationError(errors.CodeInvalidData, "origin_tag", aux.Origin, err).
				WithSuggestion("origin_tag must be ENTRA, NEUTRA or FORA")
		}
		c.Origin = o
	}

	v, err := ParseAmountJSON(aux.Value)
	if err != nil {
		return fmt.Errorf("candidate %q: %w", c.Label, err)
	}
	if v == nil {
		return fmt.Errorf("candidate %q: value is required", c.Label)
	}
	c.Value = *v
	return nil
}

// ParseAmountJSON decodes an optional amount. null or an absent value gives nil.
func ParseAmountJSON(raw json.RawMessage) (*decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		// text is always Brazilian notation: "1.500" is fifteen hundred
		d, err := money.ParseBRL(s)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}

	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %s: %w", string(raw), err)
	}
	return &d, nil
}

// GroupKey identifies one reconciliation: a period of one segment of one source
type GroupKey struct {
	Source  string  `json:"source,omitempty"`
	Period  string  `json:"period"`
	Segment Segment `json:"segment"`
}

func (k GroupKey) String() string {
	parts := make([]string, 0, 3)
	if k.Source != "" {
		parts = append(parts, k.Source)
	}
	parts = append(parts, k.Period, string(k.Segment))
	return strings.Join(parts, "|")
}

// LineItem is one rubric line of a payroll summary
type LineItem struct {
	Label     string          `json:"label"`
	Kind      ItemKind        `json:"kind"`
	Origin    Origin          `json:"origin,omitempty"`
	Deduction DeductionClass  `json:"deduction,omitempty"`
	Value     decimal.Decimal `json:"value"`
}

// Group carries everything known about one period and segment
type Group struct {
	Key          GroupKey         `json:"key"`
	KnownTotal   *decimal.Decimal `json:"known_total,omitempty"`
	Target       *decimal.Decimal `json:"target,omitempty"`
	BaseOverride *decimal.Decimal `json:"base_override,omitempty"`
	Items        []LineItem       `json:"items"`
	// Candidates are used as-is when the group has no classified items
	Candidates []Candidate `json:"candidates,omitempty"`
}

// EarningsSum adds up the PROVENTO items
func (g *Group) EarningsSum() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range g.Items {
		if it.Kind == KindEarning {
			sum = sum.Add(it.Value)
		}
	}
	return sum
}
