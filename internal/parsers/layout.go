package parsers

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// RowKind is the tipo column of the long layout
type RowKind string

const (
	RowEarning     RowKind = "PROVENTO"
	RowDeduction   RowKind = "DESCONTO"
	RowTotal       RowKind = "TOTAL"
	RowTarget      RowKind = "BASE_OFICIAL"
	RowCurrentBase RowKind = "BASE_ATUAL"
)

// ParseRowKind accepts the Portuguese kinds, with or without accents, and English aliases
func ParseRowKind(s string) (RowKind, error) {
	key := strings.ToUpper(strings.ReplaceAll(classifier.Normalize(s), " ", "_"))
	key = strings.ReplaceAll(key, "-", "_")
	switch key {
	case "PROVENTO", "PROVENTOS", "EARNING":
		return RowEarning, nil
	case "DESCONTO", "DESCONTOS", "DEDUCTION":
		return RowDeduction, nil
	case "TOTAL", "TOTAL_PROVENTOS", "KNOWN_TOTAL":
		return RowTotal, nil
	case "BASE_OFICIAL", "BASE_INSS", "TARGET":
		return RowTarget, nil
	case "BASE_ATUAL", "CURRENT_BASE":
		return RowCurrentBase, nil
	}
	return "", fmt.Errorf("unknown row kind %q", s)
}

// recordSource yields rows with their line numbers; io.EOF ends the input
type recordSource interface {
	next() ([]string, error)
}

type columns map[string]int

func (c columns) index(name string) int {
	if i, ok := c[name]; ok {
		return i
	}
	return -1
}

// resolveColumns finds the standard columns in the header row
func resolveColumns(pc *ParseContext, layout *LayoutConfig) (columns, error) {
	cols := make(columns)
	var missing []string
	for _, name := range requiredColumns() {
		idx := pc.GetColumnIndex(layout.GetColumnNames(name)...)
		if idx < 0 {
			missing = append(missing, layout.GetColumnNames(name)[0])
			continue
		}
		cols[name] = idx
	}
	if len(missing) > 0 {
		return nil, errors.ParseError(errors.CodeMissingColumn, pc.File, pc.LineNumber,
			strings.Join(missing, ", "), "", nil).
			WithContext("headers", pc.Headers).
			WithSuggestion(fmt.Sprintf("the header must contain %s", strings.Join(missing, ", ")))
	}
	for _, name := range optionalColumns() {
		if idx := pc.GetColumnIndex(layout.GetColumnNames(name)...); idx >= 0 {
			cols[name] = idx
		}
	}
	return cols, nil
}

// groupBuilder collects rows into groups, keeping first-seen order
type groupBuilder struct {
	source string
	order  []models.GroupKey
	groups map[models.GroupKey]*models.Group
}

func newGroupBuilder(source string) *groupBuilder {
	return &groupBuilder{source: source, groups: make(map[models.GroupKey]*models.Group)}
}

func (b *groupBuilder) get(period string, segment models.Segment) *models.Group {
	key := models.GroupKey{Source: b.source, Period: period, Segment: segment}
	g, ok := b.groups[key]
	if !ok {
		g = &models.Group{Key: key}
		b.groups[key] = g
		b.order = append(b.order, key)
	}
	return g
}

func (b *groupBuilder) build() []models.Group {
	out := make([]models.Group, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, *b.groups[key])
	}
	return out
}

// parseLong reads a long layout table. rawCells is set for spreadsheet
// input, where numbers arrive unformatted.
func (p *Parser) parseLong(pc *ParseContext, src recordSource, rawCells bool, b *groupBuilder, stats *ParseStats) error {
	header, err := src.next()
	if err == io.EOF {
		return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithContext("file", pc.File).
			WithSuggestion("Ensure the file contains header and data rows")
	}
	if err != nil {
		return err
	}
	pc.SetHeaders(header)

	cols, err := resolveColumns(pc, p.layout)
	if err != nil {
		return err
	}

	for {
		record, err := src.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		stats.RecordsParsed++

		ok, rowErr := p.applyRow(cols, record, rawCells, b)
		if ok {
			stats.RecordsValid++
			continue
		}
		if !pc.AddError(rowErr.column, rowErr.value, rowErr.message, rowErr.cause) {
			return rejectedRows(pc)
		}
	}
}

type rowFailure struct {
	column  string
	value   string
	message string
	cause   error
}

func (p *Parser) applyRow(cols columns, record []string, rawCells bool, b *groupBuilder) (bool, rowFailure) {
	period := fieldValue(record, cols.index(ColumnPeriod))
	if period == "" {
		return false, rowFailure{column: ColumnPeriod, message: "period is empty"}
	}

	kindText := fieldValue(record, cols.index(ColumnKind))
	kind, err := ParseRowKind(kindText)
	if err != nil {
		return false, rowFailure{column: ColumnKind, value: kindText, message: "unknown row kind", cause: err}
	}

	valueText := fieldValue(record, cols.index(ColumnValue))
	value, err := parseAmount(valueText, rawCells)
	if err != nil {
		return false, rowFailure{column: ColumnValue, value: valueText, message: "invalid amount", cause: err}
	}
	if kind == RowEarning && value.IsNegative() {
		return false, rowFailure{column: ColumnValue, value: valueText, message: "earnings cannot be negative"}
	}

	label := fieldValue(record, cols.index(ColumnLabel))
	if label == "" && (kind == RowEarning || kind == RowDeduction) {
		return false, rowFailure{column: ColumnLabel, message: "rubric label is empty"}
	}

	var origin models.Origin
	if originText := fieldValue(record, cols.index(ColumnOrigin)); originText != "" {
		if origin, err = models.ParseOrigin(originText); err != nil {
			return false, rowFailure{column: ColumnOrigin, value: originText, message: "unknown classification", cause: err}
		}
	}

	segment := models.ParseSegment(fieldValue(record, cols.index(ColumnGroup)))
	g := b.get(period, segment)

	switch kind {
	case RowTotal:
		g.KnownTotal = models.DecimalPtr(value)
	case RowTarget:
		g.Target = models.DecimalPtr(value)
	case RowCurrentBase:
		g.BaseOverride = models.DecimalPtr(value)
	case RowEarning, RowDeduction:
		item := models.LineItem{Label: label, Kind: models.KindEarning, Origin: origin, Value: value}
		if kind == RowDeduction {
			item.Kind = models.KindDeduction
			item.Value = value.Abs()
		}
		g.Items = append(g.Items, item)
	}
	return true, rowFailure{}
}

// parseAmount reads a BR formatted amount. Spreadsheet cells without a comma
// are plain numbers ("1234.5"); CSV text always goes through the BR parser.
func parseAmount(s string, rawCells bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errors.ValidationError(errors.CodeEmptyAmount, "value", s, nil)
	}
	if rawCells && !strings.ContainsAny(s, ",R$()") {
		if d, err := decimal.NewFromString(s); err == nil {
			return d, nil
		}
	}
	return money.ParseBRL(s)
}

// rejectedRows is returned when the error limit is hit or no row was usable
func rejectedRows(pc *ParseContext) error {
	return errors.ParseError(errors.CodeInvalidData, pc.File, pc.LineNumber, "", "",
		pc.Errors.Summary()).
		WithSuggestion(fmt.Sprintf("%d rows were rejected; fix the file or raise max-errors",
			len(pc.Errors.Errors())))
}
