// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: a table with a traffic light per group, for the terminal
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per group plus one row per returned item
//   - XLSX: the sheets Resumo, Devolvidas, Radar and Mapa
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatConsole,
//		IncludeChosen: true,
//	})
//	report := reporter.NewReport("folha.csv", batch)
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// IncludeChosen lists the returned items of every group
	IncludeChosen bool `json:"include_chosen" mapstructure:"include-chosen"`
	// IncludeRadar adds the recurrence radar and the impact map
	IncludeRadar bool `json:"include_radar" mapstructure:"include-radar"`
	// MaxChosenPerGroup caps the listed items per group; 0 lists all
	MaxChosenPerGroup int `json:"max_chosen_per_group" mapstructure:"max-chosen-per-group"`

	// Console options
	UseEmoji bool `json:"use_emoji" mapstructure:"use-emoji"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv-delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv-headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeChosen:     true,
		IncludeRadar:      false,
		MaxChosenPerGroup: 20,
		UseEmoji:          true,
		CSVDelimiter:      ';',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxChosenPerGroup < 0 {
		return fmt.Errorf("max chosen per group cannot be negative, got %d", c.MaxChosenPerGroup)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// Report is everything one run produced
type Report struct {
	Source      string                         `json:"source,omitempty"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Duration    time.Duration                  `json:"duration"`
	Results     []*models.ReconciliationResult `json:"results"`
	Errors      []*reconciler.GroupError       `json:"-"`
	Radar       []reconciler.RadarRow          `json:"radar,omitempty"`
	Impacts     []reconciler.ImpactRow         `json:"impact,omitempty"`
}

// NewReport wraps a batch result; batch may be nil
func NewReport(source string, batch *reconciler.BatchResult) *Report {
	r := &Report{Source: source, GeneratedAt: time.Now()}
	if batch != nil {
		r.Results = batch.Results
		r.Errors = batch.Errors
		r.Duration = batch.Duration
	}
	return r
}

// WithRadar attaches the radar rows and the impact map
func (r *Report) WithRadar(rows []reconciler.RadarRow, impacts []reconciler.ImpactRow) *Report {
	r.Radar = rows
	r.Impacts = impacts
	return r
}

// Summary aggregates a report
type Summary struct {
	Groups        int                          `json:"groups"`
	Failed        int                          `json:"failed"`
	ByStatus      map[models.QualityStatus]int `json:"by_status"`
	ByState       map[models.State]int         `json:"by_state"`
	TotalReturned decimal.Decimal              `json:"total_returned"`
}

// Summarize counts groups per status and state
func (r *Report) Summarize() Summary {
	s := Summary{
		Groups:        len(r.Results),
		Failed:        len(r.Errors),
		ByStatus:      make(map[models.QualityStatus]int),
		ByState:       make(map[models.State]int),
		TotalReturned: decimal.Zero,
	}
	for _, res := range r.Results {
		s.ByStatus[res.Status]++
		s.ByState[res.State]++
		s.TotalReturned = s.TotalReturned.Add(res.ReturnedSum())
	}
	return s
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	if report.Source != "" {
		fmt.Fprintf(writer, "Source: %s\n", report.Source)
	}
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if report.Duration > 0 {
		fmt.Fprintf(writer, "Processing Duration: %v\n", report.Duration)
	}
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")
	rg.printSummary(report.Summarize(), writer)

	if len(report.Results) > 0 {
		fmt.Fprintf(writer, "\n=== GROUPS ===\n")
		if err := rg.printGroupTable(report.Results, writer); err != nil {
			return err
		}
	}

	if rg.config.IncludeChosen {
		rg.printChosen(report.Results, writer)
	}

	rg.printWarnings(report.Results, writer)

	if len(report.Errors) > 0 {
		fmt.Fprintf(writer, "\n=== FAILED GROUPS ===\n")
		for _, ge := range report.Errors {
			fmt.Fprintf(writer, "  - %s: %v\n", ge.Group, ge.Err)
		}
	}

	if rg.config.IncludeRadar && len(report.Radar) > 0 {
		fmt.Fprintf(writer, "\n=== RADAR ===\n")
		if err := rg.printRadar(report.Radar, writer); err != nil {
			return err
		}
	}
	return nil
}

func (rg *ReportGenerator) printSummary(s Summary, writer io.Writer) {
	fmt.Fprintf(writer, "Groups:         %d\n", s.Groups)
	if s.Failed > 0 {
		fmt.Fprintf(writer, "Failed:         %d\n", s.Failed)
	}
	for _, status := range statusOrder {
		if n := s.ByStatus[status]; n > 0 {
			fmt.Fprintf(writer, "  %-28s %d (%.1f%%)\n", rg.statusLabel(status), n, calculatePercentage(n, s.Groups))
		}
	}
	fmt.Fprintf(writer, "Total Returned: %s\n", money.FormatBRL(s.TotalReturned))
}

var statusOrder = []models.QualityStatus{
	models.StatusOK,
	models.StatusNoResidual,
	models.StatusAcceptable,
	models.StatusPoor,
	models.StatusNoTarget,
	models.StatusExtractionMismatch,
}

func (rg *ReportGenerator) statusLabel(status models.QualityStatus) string {
	if rg.config.UseEmoji {
		return status.Signal().Emoji() + " " + string(status)
	}
	return string(status)
}

func (rg *ReportGenerator) printGroupTable(results []*models.ReconciliationResult, writer io.Writer) error {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PERIOD\tSEGMENT\tSTATE\tCURRENT BASE\tTARGET\tAPPROXIMATED\tRESIDUAL\tRETURNED\tSTATUS\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			r.Group.Period,
			r.Group.Segment,
			r.State,
			money.FormatBRL(r.CurrentBase),
			formatOptional(r.Target),
			money.FormatBRL(r.ApproximatedBase),
			formatOptional(r.ResidualError),
			len(r.ChosenCandidates),
			rg.statusLabel(r.Status),
		)
	}
	return tw.Flush()
}

func (rg *ReportGenerator) printChosen(results []*models.ReconciliationResult, writer io.Writer) {
	header := false
	for _, r := range results {
		if len(r.ChosenCandidates) == 0 {
			continue
		}
		if !header {
			fmt.Fprintf(writer, "\n=== RETURNED ITEMS ===\n")
			header = true
		}
		fmt.Fprintf(writer, "%s %s (%d items, %s):\n", r.Group.Period, r.Group.Segment,
			len(r.ChosenCandidates), money.FormatBRL(r.ReturnedSum()))

		shown := rg.limitChosen(r.ChosenCandidates)
		for i, c := range shown {
			fmt.Fprintf(writer, "  %d. %s: %s", i+1, c.Label, money.FormatBRL(c.Value))
			if c.Origin != "" {
				fmt.Fprintf(writer, " [%s]", c.Origin)
			}
			fmt.Fprintf(writer, "\n")
		}
		if rest := len(r.ChosenCandidates) - len(shown); rest > 0 {
			fmt.Fprintf(writer, "  ... and %d more\n", rest)
		}
	}
}

func (rg *ReportGenerator) printWarnings(results []*models.ReconciliationResult, writer io.Writer) {
	header := false
	for _, r := range results {
		for _, w := range r.Warnings {
			if !header {
				fmt.Fprintf(writer, "\n=== WARNINGS ===\n")
				header = true
			}
			fmt.Fprintf(writer, "  - %s %s: %s\n", r.Group.Period, r.Group.Segment, w)
		}
	}
}

func (rg *ReportGenerator) printRadar(rows []reconciler.RadarRow, writer io.Writer) error {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tRUBRIC\tPERIODS\tRECURRENCE %\tTOTAL\tMEAN IMPACT %\tSCORE\tORIGIN\t")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%.1f\t%s\t%s\t%s\t%s\t\n",
			row.Segment,
			row.Label,
			row.PeriodsReturned, row.TotalPeriods,
			row.RecurrencePct,
			money.FormatBRL(row.TotalReturned),
			formatFloat(row.MeanImpactPct, 2),
			formatFloat(row.RiskScore, 1),
			row.Origin,
		)
	}
	return tw.Flush()
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterReportForOutput(report))
}

type groupErrorOutput struct {
	Group models.GroupKey `json:"group"`
	Error string          `json:"error"`
}

func (rg *ReportGenerator) filterReportForOutput(report *Report) map[string]interface{} {
	results := make([]models.ReconciliationResult, 0, len(report.Results))
	for _, r := range report.Results {
		out := *r
		if rg.config.IncludeChosen {
			out.ChosenCandidates = rg.limitChosen(r.ChosenCandidates)
		} else {
			out.ChosenCandidates = nil
		}
		results = append(results, out)
	}

	output := map[string]interface{}{
		"source":       report.Source,
		"generated_at": report.GeneratedAt,
		"summary":      report.Summarize(),
		"results":      results,
	}
	if len(report.Errors) > 0 {
		failed := make([]groupErrorOutput, 0, len(report.Errors))
		for _, ge := range report.Errors {
			failed = append(failed, groupErrorOutput{Group: ge.Group, Error: ge.Err.Error()})
		}
		output["errors"] = failed
	}
	if rg.config.IncludeRadar {
		if report.Radar != nil {
			output["radar"] = report.Radar
		}
		if report.Impacts != nil {
			output["impact"] = report.Impacts
		}
	}
	return output
}

var csvHeaders = []string{
	"Type",
	"Source",
	"Period",
	"Segment",
	"State",
	"Current_Base",
	"Target",
	"Approximated_Base",
	"Residual",
	"Status",
	"Label",
	"Value",
	"Origin",
}

// generateCSVReport writes one Group row per result, followed by its Returned rows
func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, r := range report.Results {
		record := []string{
			"Group",
			r.Group.Source,
			r.Group.Period,
			string(r.Group.Segment),
			string(r.State),
			r.CurrentBase.StringFixed(2),
			fixedOptional(r.Target),
			r.ApproximatedBase.StringFixed(2),
			fixedOptional(r.ResidualError),
			string(r.Status),
			"",
			r.ReturnedSum().StringFixed(2),
			"",
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write group record: %w", err)
		}

		if !rg.config.IncludeChosen {
			continue
		}
		for _, c := range rg.limitChosen(r.ChosenCandidates) {
			record := []string{
				"Returned",
				r.Group.Source,
				r.Group.Period,
				string(r.Group.Segment),
				"", "", "", "", "", "",
				c.Label,
				c.Value.StringFixed(2),
				string(c.Origin),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write returned item record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// limitChosen applies MaxChosenPerGroup; chosen items are already sorted by value
func (rg *ReportGenerator) limitChosen(chosen []models.Candidate) []models.Candidate {
	if rg.config.MaxChosenPerGroup > 0 && len(chosen) > rg.config.MaxChosenPerGroup {
		return chosen[:rg.config.MaxChosenPerGroup]
	}
	return chosen
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return money.FormatBRL(*d)
}

func fixedOptional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}

func formatFloat(f *float64, places int) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *f)
}

// SortByResidual orders results by absolute residual, largest first; results
// without a residual go last
func SortByResidual(results []*models.ReconciliationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].ResidualError, results[j].ResidualError
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.Abs().GreaterThan(b.Abs())
	})
}

// ParseFormat accepts format names case-insensitively
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "format", s, nil).
			WithSuggestion("use console, json, csv or xlsx")
	}
	return f, nil
}
