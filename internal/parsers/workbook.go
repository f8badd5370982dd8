package parsers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// TargetsSheet is the optional sheet holding the target of every period
const TargetsSheet = "Alvos"

type sheetData struct {
	name string
	rows [][]string
}

// readXLSX loads every sheet with unformatted cell values
func readXLSX(r io.Reader, name string) ([]sheetData, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, name, err).
			WithSuggestion("make sure the file is a valid .xlsx workbook")
	}
	defer f.Close()

	var sheets []sheetData
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, name, 0, sheet, "", err)
		}
		sheets = append(sheets, sheetData{name: sheet, rows: rows})
	}
	return sheets, nil
}

// readXLS loads every sheet of a legacy .xls workbook
func readXLS(r io.Reader, name string) ([]sheetData, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, name, err)
	}

	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		// some systems save xlsx content with an .xls name
		if sheets, errX := readXLSX(bytes.NewReader(data), name); errX == nil {
			return sheets, nil
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, name, err).
			WithSuggestion("make sure the file is a valid .xls workbook")
	}

	var sheets []sheetData
	for i := 0; i < workbook.GetNumberSheets(); i++ {
		sheet, err := workbook.GetSheet(i)
		if err != nil || sheet == nil {
			continue
		}
		var rows [][]string
		for _, row := range sheet.GetRows() {
			var cells []string
			for _, col := range row.GetCols() {
				if col == nil {
					cells = append(cells, "")
					continue
				}
				cells = append(cells, col.GetString())
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetData{name: sheet.GetName(), rows: rows})
	}
	return sheets, nil
}

// parseWorkbook reads sheets in the long layout when their header has the
// long layout columns, and as a monthly workbook otherwise
func (p *Parser) parseWorkbook(ctx context.Context, sheets []sheetData, name string) ([]models.Group, *ParseStats, error) {
	pc := NewParseContext(ctx, name, p.config.MaxErrors)
	b := newGroupBuilder(name)

	var long []sheetData
	for _, s := range sheets {
		if p.isLongLayout(s) {
			long = append(long, s)
		}
	}

	if len(long) > 0 {
		stats := &ParseStats{File: name, Layout: LayoutLong}
		for _, s := range long {
			pc.Sheet = s.name
			src := &sheetSource{rows: s.rows, pc: pc}
			if err := p.parseLong(pc, src, true, b, stats); err != nil {
				return nil, stats, err
			}
		}
		return p.finish(pc, b, stats)
	}

	stats := &ParseStats{File: name, Layout: LayoutMonthly}
	if err := p.parseMonthly(pc, sheets, b, stats); err != nil {
		return nil, stats, err
	}
	return p.finish(pc, b, stats)
}

func (p *Parser) isLongLayout(s sheetData) bool {
	probe := NewParseContext(context.Background(), "", 0)
	for _, row := range s.rows {
		if isEmptyRecord(row) {
			continue
		}
		probe.SetHeaders(row)
		_, err := resolveColumns(probe, p.layout)
		return err == nil
	}
	return false
}

// parseMonthly reads one sheet per segment. Every row is a period label
// followed by the amounts that may be returned; the current base is zero.
func (p *Parser) parseMonthly(pc *ParseContext, sheets []sheetData, b *groupBuilder, stats *ParseStats) error {
	var targets map[string]map[models.Segment]decimal.Decimal
	var targetOrder []string

	for _, s := range sheets {
		pc.Sheet = s.name
		if normalizeHeader(s.name) == normalizeHeader(TargetsSheet) {
			var err error
			targets, targetOrder, err = p.parseTargets(pc, s, stats)
			if err != nil {
				return err
			}
			continue
		}
		if err := p.parseSegmentSheet(pc, s, b, stats); err != nil {
			return err
		}
	}

	for _, period := range targetOrder {
		for segment, target := range targets[period] {
			g := b.get(period, segment)
			g.Target = models.DecimalPtr(target)
		}
	}
	for _, g := range b.groups {
		if g.BaseOverride == nil {
			g.BaseOverride = models.DecimalPtr(decimal.Zero)
		}
	}
	return nil
}

func (p *Parser) parseSegmentSheet(pc *ParseContext, s sheetData, b *groupBuilder, stats *ParseStats) error {
	segment := models.ParseSegment(s.name)
	src := &sheetSource{rows: s.rows, pc: pc}

	var header []string
	first := true
	for {
		row, err := src.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if first {
			first = false
			if isHeaderRow(row) {
				header = row
				continue
			}
		}

		stats.RecordsParsed++
		period := fieldValue(row, 0)
		if period == "" {
			if !pc.AddError("A", "", "period is empty", nil) {
				return rejectedRows(pc)
			}
			continue
		}

		var candidates []models.Candidate
		failed := false
		for j := 1; j < len(row); j++ {
			text := strings.TrimSpace(row[j])
			if text == "" {
				continue
			}
			column, _ := excelize.ColumnNumberToName(j + 1)
			value, err := parseAmount(text, true)
			if err == nil && value.IsNegative() {
				err = fmt.Errorf("negative amount")
			}
			if err != nil {
				failed = true
				if !pc.AddError(column, text, "invalid amount", err) {
					return rejectedRows(pc)
				}
				continue
			}
			label := fieldValue(header, j)
			if label == "" {
				label = "Coluna " + column
			}
			candidates = append(candidates, models.NewCandidate(label, value, models.OriginExcluded))
		}

		g := b.get(period, segment)
		g.Candidates = append(g.Candidates, candidates...)
		if !failed {
			stats.RecordsValid++
		}
	}
}

// parseTargets reads the Alvos sheet: a period column and one column per segment
func (p *Parser) parseTargets(pc *ParseContext, s sheetData, stats *ParseStats) (map[string]map[models.Segment]decimal.Decimal, []string, error) {
	src := &sheetSource{rows: s.rows, pc: pc}
	header, err := src.next()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	pc.SetHeaders(header)

	periodIdx := pc.GetColumnIndex(p.layout.GetColumnNames(ColumnPeriod)...)
	if periodIdx < 0 {
		return nil, nil, errors.ParseError(errors.CodeMissingColumn, pc.File, pc.LineNumber, "periodo", "", nil).
			WithContext("sheet", s.name)
	}
	type segmentColumn struct {
		index   int
		segment models.Segment
	}
	var segments []segmentColumn
	for i, h := range header {
		if i != periodIdx && strings.TrimSpace(h) != "" {
			segments = append(segments, segmentColumn{i, models.ParseSegment(classifier.Normalize(h))})
		}
	}

	targets := make(map[string]map[models.Segment]decimal.Decimal)
	var order []string
	for {
		row, err := src.next()
		if err == io.EOF {
			return targets, order, nil
		}
		if err != nil {
			return nil, nil, err
		}
		stats.RecordsParsed++

		period := fieldValue(row, periodIdx)
		if period == "" {
			if !pc.AddError("periodo", "", "period is empty", nil) {
				return nil, nil, rejectedRows(pc)
			}
			continue
		}
		if _, seen := targets[period]; !seen {
			targets[period] = make(map[models.Segment]decimal.Decimal)
			order = append(order, period)
		}

		valid := true
		for _, col := range segments {
			text := fieldValue(row, col.index)
			if text == "" {
				continue
			}
			value, err := parseAmount(text, true)
			if err != nil {
				valid = false
				if !pc.AddError(header[col.index], text, "invalid target", err) {
					return nil, nil, rejectedRows(pc)
				}
				continue
			}
			targets[period][col.segment] = value
		}
		if valid {
			stats.RecordsValid++
		}
	}
}

// isHeaderRow reports whether none of the cells after the first is an amount
func isHeaderRow(row []string) bool {
	seen := false
	for _, cell := range row[1:] {
		if strings.TrimSpace(cell) == "" {
			continue
		}
		seen = true
		if _, err := parseAmount(cell, true); err == nil {
			return false
		}
	}
	return seen
}
