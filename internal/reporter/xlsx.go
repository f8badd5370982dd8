package reporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Workbook sheet names
const (
	SheetSummary  = "Resumo"
	SheetReturned = "Devolvidas"
	SheetRadar    = "Radar"
	SheetImpact   = "Mapa"
)

// generateXLSXReport writes an unstyled workbook. Amounts are numeric cells.
func (rg *ReportGenerator) generateXLSXReport(report *Report, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}

	summary := [][]interface{}{{
		"Fonte", "Competência", "Grupo", "Estado", "Base atual", "Base oficial",
		"Base aproximada", "Erro residual", "Itens devolvidos", "Total devolvido", "Status", "Avisos",
	}}
	for _, r := range report.Results {
		summary = append(summary, []interface{}{
			r.Group.Source,
			r.Group.Period,
			string(r.Group.Segment),
			string(r.State),
			r.CurrentBase.InexactFloat64(),
			optionalCell(r.Target),
			r.ApproximatedBase.InexactFloat64(),
			optionalCell(r.ResidualError),
			len(r.ChosenCandidates),
			r.ReturnedSum().InexactFloat64(),
			string(r.Status),
			strings.Join(r.Warnings, "; "),
		})
	}
	if err := writeRows(f, SheetSummary, summary); err != nil {
		return err
	}

	if rg.config.IncludeChosen {
		rows := [][]interface{}{{"Competência", "Grupo", "Rubrica", "Valor", "Classificação"}}
		for _, r := range report.Results {
			for _, c := range rg.limitChosen(r.ChosenCandidates) {
				rows = append(rows, []interface{}{
					r.Group.Period, string(r.Group.Segment), c.Label, c.Value.InexactFloat64(), string(c.Origin),
				})
			}
		}
		if err := addSheet(f, SheetReturned, rows); err != nil {
			return err
		}
	}

	if rg.config.IncludeRadar {
		rows := [][]interface{}{{
			"Grupo", "Rubrica", "Períodos devolvida", "Períodos", "Recorrência %",
			"Total devolvido", "Média devolvida", "Impacto médio %", "Impacto máximo %", "Classificação", "Score",
		}}
		for _, row := range report.Radar {
			rows = append(rows, []interface{}{
				string(row.Segment), row.Label, row.PeriodsReturned, row.TotalPeriods, row.RecurrencePct,
				row.TotalReturned.InexactFloat64(), row.MeanReturned.InexactFloat64(),
				floatCell(row.MeanImpactPct), floatCell(row.MaxImpactPct), string(row.Origin), floatCell(row.RiskScore),
			})
		}
		if err := addSheet(f, SheetRadar, rows); err != nil {
			return err
		}

		impact := [][]interface{}{{"Competência", "Grupo", "Rubrica", "Classificação", "Valor", "Impacto %"}}
		for _, row := range report.Impacts {
			impact = append(impact, []interface{}{
				row.Group.Period, string(row.Group.Segment), row.Label, string(row.Origin),
				row.Value.InexactFloat64(), floatCell(row.ImpactPct),
			})
		}
		if err := addSheet(f, SheetImpact, impact); err != nil {
			return err
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func addSheet(f *excelize.File, name string, rows [][]interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return err
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// optionalCell leaves the cell empty for a missing amount
func optionalCell(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func floatCell(f *float64) interface{} {
	if f == nil {
		return ""
	}
	return *f
}
