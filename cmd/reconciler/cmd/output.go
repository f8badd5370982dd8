package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reporter"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/storage"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Flag names used by more than one command
const (
	flagFormat = "format"
	flagOutput = "output"
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(flagFormat, "f", "console", "output format: console, json, csv, xlsx")
	cmd.Flags().StringP(flagOutput, "o", "", "output file path (default: stdout)")
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).WithContext("description", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("description", description)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath, nil).
			WithContext("description", description).
			WithSuggestion("expected a file, got a directory")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("description", description)
	}
	file.Close()
	return nil
}

// validateOutput checks the format and that the output directory exists
func validateOutput(format, path string) error {
	f, err := reporter.ParseFormat(format)
	if err != nil {
		return err
	}
	if f == reporter.FormatXLSX && path == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, flagOutput, path, nil).
			WithSuggestion("xlsx reports must be written to a file with --output")
	}
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("create the output directory first")
			}
		}
	}
	return nil
}

// writeReport renders report to --output, or to the command's stdout
func writeReport(cmd *cobra.Command, report *reporter.Report, includeRadar bool) error {
	cfg, err := config.CreateReportConfig(viper.GetString(flagFormat), includeRadar)
	if err != nil {
		return err
	}
	gen, err := reporter.NewSafeReportGenerator(cfg, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	path := viper.GetString(flagOutput)
	if path == "" {
		return gen.GenerateReportSafely(report, cmd.OutOrStdout())
	}

	written, err := gen.WriteFile(report, path)
	if err != nil {
		return err
	}
	logger.WithComponent("cli").WithFields(logger.Fields{
		"file":   written,
		"format": cfg.Format,
	}).Info("Report written")
	return nil
}

// openStore opens the history database named by --db, or returns nil when unset
func openStore(ctx context.Context) (*storage.Storage, error) {
	path := viper.GetString(config.KeyDB)
	if path == "" {
		return nil, nil
	}
	return storage.NewStorage(ctx, path)
}
