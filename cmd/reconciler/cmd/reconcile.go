package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reporter"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

const (
	flagCurrentBase    = "current-base"
	flagTarget         = "target"
	flagCandidates     = "candidates"
	flagCandidatesFile = "candidates-file"
	flagPeriod         = "period"
	flagSegment        = "segment"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile one base against its official value",
	Long: `Reconcile searches, among the given candidates, the combination whose sum
added to the current base comes closest to the target without exceeding it.

Candidates are "label=value:ORIGIN" entries separated by ';' (or ',' when no
amount uses a decimal comma). The origin is ENTRA, NEUTRA or FORA; only the
eligible origins (--eligible-origins) are searched.

Examples:
  # Two candidates, Brazilian amounts
  reconciler reconcile --current-base 80000 --target 98834,04 \
    --candidates "Diárias=6202,87:NEUTRA;Bônus=12631,17:FORA"

  # Candidates from a file, JSON output
  reconciler reconcile --current-base 1000 --target 1150 \
    --candidates-file candidatos.yaml --format json

  # Without a target the current base is reported as-is
  reconciler reconcile --current-base 1000 --candidates "A=10,B=20"`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String(flagCurrentBase, "", "base computed from the classified rubrics (required)")
	reconcileCmd.Flags().String(flagTarget, "", "official base printed by the payroll system")
	reconcileCmd.Flags().String(flagCandidates, "", `candidates as "label=value:ORIGIN" entries`)
	reconcileCmd.Flags().String(flagCandidatesFile, "", "JSON or YAML list of {label, value, origin_tag}")
	reconcileCmd.Flags().String(flagPeriod, "", "period shown in the report, e.g. 01/2024")
	reconcileCmd.Flags().String(flagSegment, "", "segment shown in the report: ativos, desligados or global")
	addOutputFlags(reconcileCmd)
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if viper.GetString(flagCurrentBase) == "" {
		return errors.ValidationError(errors.CodeMissingField, flagCurrentBase, nil, nil).
			WithSuggestion("pass the base computed from the payroll with --current-base")
	}
	if viper.GetString(flagCandidates) != "" && viper.GetString(flagCandidatesFile) != "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, flagCandidates, nil, nil).
			WithSuggestion("use either --candidates or --candidates-file")
	}
	if file := viper.GetString(flagCandidatesFile); file != "" {
		if err := validateFileExists(file, "candidates file"); err != nil {
			return err
		}
	}
	return validateOutput(viper.GetString(flagFormat), viper.GetString(flagOutput))
}

// reconcileGroup builds the group described by the flags
func reconcileGroup() (models.Group, error) {
	base, err := config.ParseAmount(viper.GetString(flagCurrentBase))
	if err != nil {
		return models.Group{}, errors.ValidationError(errors.CodeInvalidAmount, flagCurrentBase, viper.GetString(flagCurrentBase), err)
	}
	target, err := config.ParseAmount(viper.GetString(flagTarget))
	if err != nil {
		return models.Group{}, errors.ValidationError(errors.CodeInvalidAmount, flagTarget, viper.GetString(flagTarget), err)
	}

	var candidates []models.Candidate
	if file := viper.GetString(flagCandidatesFile); file != "" {
		candidates, err = config.LoadCandidates(file)
	} else {
		candidates, err = config.ParseCandidates(viper.GetString(flagCandidates))
	}
	if err != nil {
		return models.Group{}, err
	}

	return models.Group{
		Key: models.GroupKey{
			Period:  viper.GetString(flagPeriod),
			Segment: models.ParseSegment(viper.GetString(flagSegment)),
		},
		BaseOverride: base,
		Target:       target,
		Candidates:   candidates,
	}, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cli")

	group, err := reconcileGroup()
	if err != nil {
		return err
	}

	rc, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cls, err := config.CreateClassifier(viper.GetViper())
	if err != nil {
		return err
	}
	service, err := reconciler.NewService(rc, cls)
	if err != nil {
		return err
	}

	log.WithFields(logger.Fields{
		"candidates": len(group.Candidates),
		"config":     rc.String(),
	}).Debug("Starting reconciliation")

	result, err := service.ReconcileGroup(cmd.Context(), group)
	if err != nil {
		return err
	}

	batch := &reconciler.BatchResult{Results: []*models.ReconciliationResult{result}}
	report := reporter.NewReport(strings.TrimSpace(group.Key.Period+" "+string(group.Key.Segment)), batch)
	return writeReport(cmd, report, false)
}
