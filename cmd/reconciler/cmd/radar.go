package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reporter"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

const (
	flagRuns  = "runs"
	flagLimit = "limit"
)

// radarCmd represents the radar command
var radarCmd = &cobra.Command{
	Use:   "radar",
	Short: "Show which rubrics keep being returned into the base",
	Long: `Radar reads the history database written by 'batch --db' and ranks, per
segment, the rubrics most often returned into the base, with the share of
periods they appear in and their average impact on the official base.

Examples:
  reconciler radar --db historico.db
  reconciler radar --db historico.db --segment desligados --format csv
  reconciler radar --db historico.db --runs --limit 10`,

	PreRunE: validateRadarFlags,
	RunE:    runRadar,
}

func init() {
	rootCmd.AddCommand(radarCmd)

	addOutputFlags(radarCmd)
	radarCmd.Flags().String(config.KeyDB, "", "SQLite history database (required)")
	radarCmd.Flags().String(flagSegment, "", "only this segment: ativos, desligados or global")
	radarCmd.Flags().Bool(flagRuns, false, "list the stored runs instead of the radar")
	radarCmd.Flags().Int(flagLimit, storage.DefaultListLimit, "runs listed with --runs")
}

func validateRadarFlags(cmd *cobra.Command, args []string) error {
	db := viper.GetString(config.KeyDB)
	if db == "" {
		return errors.ValidationError(errors.CodeMissingField, config.KeyDB, nil, nil).
			WithSuggestion("pass the history database written by 'reconciler batch --db'")
	}
	if err := validateFileExists(db, "history database"); err != nil {
		return err
	}

	if viper.GetBool(flagRuns) {
		switch strings.ToLower(viper.GetString(flagFormat)) {
		case string(reporter.FormatConsole), string(reporter.FormatJSON):
		default:
			return errors.ConfigurationError(errors.CodeInvalidConfig, flagFormat, viper.GetString(flagFormat), nil).
				WithSuggestion("--runs supports console and json")
		}
		if viper.GetInt(flagLimit) <= 0 {
			return errors.ValidationError(errors.CodeOutOfRange, flagLimit, viper.GetInt(flagLimit), nil)
		}
	}
	return validateOutput(viper.GetString(flagFormat), viper.GetString(flagOutput))
}

func runRadar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if viper.GetBool(flagRuns) {
		runs, err := store.ListRuns(ctx, viper.GetInt(flagLimit))
		if err != nil {
			return err
		}
		if strings.EqualFold(viper.GetString(flagFormat), string(reporter.FormatJSON)) {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		return printRuns(cmd.OutOrStdout(), runs)
	}

	var segment models.Segment
	if raw := strings.TrimSpace(viper.GetString(flagSegment)); raw != "" {
		segment = models.ParseSegment(raw)
	}
	history, err := store.History(ctx, segment)
	if err != nil {
		return err
	}
	impacts := reconciler.ReturnedImpacts(history)

	report := reporter.NewReport(viper.GetString(config.KeyDB), nil).
		WithRadar(reconciler.Radar(history, impacts), impacts)
	return writeReport(cmd, report, true)
}

func printRuns(w io.Writer, runs []*storage.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No stored runs.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tGROUPS\tFAILED\tPOOL\tPOLICY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Source, r.Groups, r.Failed, r.PoolLimit, r.PoolPolicy)
	}
	return tw.Flush()
}
