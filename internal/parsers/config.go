package parsers

import (
	"fmt"
	"strings"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
)

// Standard column names of the long layout
const (
	ColumnPeriod = "period"
	ColumnGroup  = "group"
	ColumnLabel  = "label"
	ColumnKind   = "kind"
	ColumnOrigin = "origin"
	ColumnValue  = "value"
)

// LayoutConfig maps the standard long layout columns to header names
type LayoutConfig struct {
	PeriodColumn string `json:"period_column" mapstructure:"period-column"`
	GroupColumn  string `json:"group_column" mapstructure:"group-column"`
	LabelColumn  string `json:"label_column" mapstructure:"label-column"`
	KindColumn   string `json:"kind_column" mapstructure:"kind-column"`
	OriginColumn string `json:"origin_column" mapstructure:"origin-column"`
	ValueColumn  string `json:"value_column" mapstructure:"value-column"`
	// ColumnAliases lists extra accepted header names per standard column
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" mapstructure:"column-aliases"`
}

// DefaultLayoutConfig returns the Portuguese headers with English aliases
func DefaultLayoutConfig() *LayoutConfig {
	return &LayoutConfig{
		PeriodColumn: "competencia",
		GroupColumn:  "grupo",
		LabelColumn:  "rubrica",
		KindColumn:   "tipo",
		OriginColumn: "classificacao",
		ValueColumn:  "valor",
		ColumnAliases: map[string][]string{
			ColumnPeriod: {"period", "periodo", "mes"},
			ColumnGroup:  {"group", "segmento", "segment"},
			ColumnLabel:  {"label", "descricao", "description"},
			ColumnKind:   {"kind", "type"},
			ColumnOrigin: {"origin", "origem", "origin_tag"},
			ColumnValue:  {"value", "amount", "montante"},
		},
	}
}

// Validate checks if the layout configuration is valid
func (lc *LayoutConfig) Validate() error {
	required := map[string]string{
		ColumnPeriod: lc.PeriodColumn,
		ColumnLabel:  lc.LabelColumn,
		ColumnKind:   lc.KindColumn,
		ColumnValue:  lc.ValueColumn,
	}
	for name, column := range required {
		if strings.TrimSpace(column) == "" {
			return fmt.Errorf("%s column cannot be empty", name)
		}
	}
	return nil
}

// GetColumnNames returns every accepted header for a standard column,
// normalized the same way headers are
func (lc *LayoutConfig) GetColumnNames(standardName string) []string {
	var primary string
	switch standardName {
	case ColumnPeriod:
		primary = lc.PeriodColumn
	case ColumnGroup:
		primary = lc.GroupColumn
	case ColumnLabel:
		primary = lc.LabelColumn
	case ColumnKind:
		primary = lc.KindColumn
	case ColumnOrigin:
		primary = lc.OriginColumn
	case ColumnValue:
		primary = lc.ValueColumn
	default:
		primary = standardName
	}

	names := make([]string, 0, 1+len(lc.ColumnAliases[standardName]))
	if primary != "" {
		names = append(names, normalizeHeader(primary))
	}
	for _, alias := range lc.ColumnAliases[standardName] {
		names = append(names, normalizeHeader(alias))
	}
	return names
}

// requiredColumns are the standard columns every long layout file must have
func requiredColumns() []string {
	return []string{ColumnPeriod, ColumnLabel, ColumnKind, ColumnValue}
}

func optionalColumns() []string {
	return []string{ColumnGroup, ColumnOrigin}
}

// normalizeHeader makes "Competência " and "competencia" the same header
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ReplaceAll(classifier.Normalize(h), " ", "_")
}
