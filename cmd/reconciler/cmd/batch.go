package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/parsers"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reporter"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

const (
	flagSort     = "sort"
	flagRadar    = "radar"
	flagProgress = "progress"

	sortInput    = "input"
	sortResidual = "residual"
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch FILE...",
	Short: "Reconcile every period and segment of payroll files",
	Long: `Batch reads payroll summaries (.csv, .xlsx or .xls), classifies their rubrics
and reconciles every period and segment found.

Files in the long layout have one row per rubric with the columns competencia,
grupo, rubrica, tipo, classificacao and valor. Monthly workbooks have one sheet
per segment and an optional Alvos sheet with the official bases.

With --db every run is stored, which feeds the radar and the recurrence
pool policy.

Examples:
  reconciler batch folha_2024.csv
  reconciler batch jan.xlsx fev.xlsx --format xlsx --output resultado.xlsx
  reconciler batch folha.csv --db historico.db --pool-policy recurrence --radar
  reconciler batch legado.csv --encoding windows-1252 --delimiter tab --sort residual`,

	Args:    cobra.MinimumNArgs(1),
	PreRunE: validateBatchFlags,
	RunE:    runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addOutputFlags(batchCmd)
	batchCmd.Flags().String(config.KeyDB, "", "SQLite history database; runs are stored when set")
	batchCmd.Flags().String(config.KeyDelimiter, ";", `CSV delimiter, "tab" for tabs`)
	batchCmd.Flags().String(config.KeyEncoding, "utf-8", "CSV encoding: utf-8 or windows-1252")
	batchCmd.Flags().Int(config.KeyMaxErrors, 100, "rejected rows tolerated per file before giving up")
	batchCmd.Flags().String(flagSort, sortInput, "result order: input or residual")
	batchCmd.Flags().Bool(flagRadar, false, "add the recurrence radar and the impact map to the report")
	batchCmd.Flags().Bool(flagProgress, false, "show progress on stderr")
}

func validateBatchFlags(cmd *cobra.Command, args []string) error {
	for i, file := range args {
		if err := validateFileExists(file, fmt.Sprintf("payroll file %d", i+1)); err != nil {
			return err
		}
	}

	switch viper.GetString(flagSort) {
	case sortInput, sortResidual:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, flagSort, viper.GetString(flagSort), nil).
			WithSuggestion("use --sort input or --sort residual")
	}
	return validateOutput(viper.GetString(flagFormat), viper.GetString(flagOutput))
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithComponent("cli")
	v := viper.GetViper()

	parseCfg, err := config.CreateParseConfig(v)
	if err != nil {
		return err
	}
	rc, err := config.CreateReconcilerConfig(v)
	if err != nil {
		return err
	}
	cls, err := config.CreateClassifier(v)
	if err != nil {
		return err
	}

	parser, err := parsers.NewParser(parseCfg, nil)
	if err != nil {
		return err
	}
	groups, err := parseAll(cmd, parser, args, rc.Workers)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	service, err := reconciler.NewService(rc, cls)
	if err != nil {
		return err
	}
	if store != nil {
		service.WithHistory(store)
	} else if rc.PoolPolicy == reconciler.PoolByRecurrence {
		log.Warn("Recurrence pool policy without --db, ranking candidates by magnitude")
	}

	var progress reconciler.ProgressCallback
	if viper.GetBool(flagProgress) {
		stderr := cmd.ErrOrStderr()
		progress = func(done, total int) {
			fmt.Fprintf(stderr, "\r[%d/%d] groups reconciled", done, total)
			if done == total {
				fmt.Fprintln(stderr)
			}
		}
	}

	batch, err := service.ReconcileBatch(ctx, groups, progress)
	if err != nil {
		return err
	}
	for _, ge := range batch.Errors {
		log.WithField("group", ge.Group.String()).WithError(ge.Err).Warn("Group could not be reconciled")
	}

	source := sourceName(args)
	if store != nil {
		run := storage.NewRun(source, service.Config(), batch)
		if err := store.SaveRun(ctx, run); err != nil {
			return err
		}
		log.WithFields(logger.Fields{"run_id": run.ID, "db": viper.GetString(config.KeyDB)}).Info("Run stored")
	}

	if viper.GetString(flagSort) == sortResidual {
		reporter.SortByResidual(batch.Results)
	}

	report := reporter.NewReport(source, batch)
	includeRadar := viper.GetBool(flagRadar)
	if includeRadar {
		impacts := service.ImpactMap(groups)
		rows := reconciler.Radar(batch.Results, impacts)
		if store != nil {
			// the stored history already includes this run
			if rows, err = store.Radar(ctx, ""); err != nil {
				return err
			}
		}
		report.WithRadar(rows, impacts)
	}
	return writeReport(cmd, report, includeRadar)
}

// parseAll parses every file concurrently. Files that fail are collected
// into one error so that all of them can be fixed in a single pass.
func parseAll(cmd *cobra.Command, parser *parsers.Parser, paths []string, workers int) ([]models.Group, error) {
	log := logger.WithComponent("cli")
	results := parsers.NewConcurrentParser(parser, workers).ParseFiles(cmd.Context(), paths)

	var failures []*errors.ReconcilerError
	for _, r := range results {
		if r.Error != nil {
			failures = append(failures, errors.WrapIfNeeded(r.Error, errors.CategoryParse, errors.CodeInvalidData, "failed to parse "+r.FilePath))
			continue
		}
		fields := logger.Fields{"file": r.FilePath, "groups": len(r.Groups)}
		if r.Stats != nil {
			fields["stats"] = r.Stats.String()
			if r.Stats.HasErrors() {
				for _, sample := range r.Stats.GetSampleErrors(3) {
					log.WithField("file", r.FilePath).Warn(sample)
				}
			}
		}
		log.WithFields(fields).Info("Payroll file parsed")
	}
	if len(failures) == 1 {
		return nil, failures[0]
	}
	if len(failures) > 1 {
		return nil, errors.NewErrorSummary(failures)
	}

	groups, err := parsers.Groups(results)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, errors.ParseError(errors.CodeInvalidData, strings.Join(paths, ", "), 0, "", "", nil).
			WithSuggestion("the files have no payroll rows; check the layout and the delimiter")
	}
	return groups, nil
}

func sourceName(paths []string) string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return strings.Join(names, ",")
}
