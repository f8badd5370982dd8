package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

var (
	cfgFile string
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "INSS contribution base reconciliation tool",
	Long: `Reconciler approximates the INSS contribution base of a payroll from below.

Given the base computed from the classified rubrics and the official base
printed by the payroll system, it finds the combination of excluded or
ambiguous rubrics that best explains the difference without exceeding it,
and grades the residual as OK, ACEITAVEL or RUIM.

Examples:
  reconciler reconcile --current-base 80000 --target 98834,04 --candidates "Diárias=6202,87:NEUTRA;Bônus=850"
  reconciler batch folha.csv --format xlsx --output resultado.xlsx --db historico.db
  reconciler radar --db historico.db --segment ativos
  reconciler serve --addr :8080 --db historico.db --config reconciler.yaml
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the running command.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return NewCLIErrorHandler().HandleError(err)
	}
	return 0
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output (debug logging)")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text, json")
	flags.String(config.KeyLogFile, "", "write logs to this file instead of stderr")

	// reconciliation settings shared by every command
	flags.Int(config.KeyPoolLimit, 44, "largest candidates searched per group (max 60)")
	flags.String(config.KeyPoolPolicy, "magnitude", "pool ranking: magnitude or recurrence")
	flags.String(config.KeyBandOK, "10.00", "largest residual graded OK")
	flags.String(config.KeyBandAcceptable, "10000.00", "largest residual graded ACEITAVEL")
	flags.String(config.KeyEligibleOrigins, "FORA,NEUTRA", "origins that may be returned into the base; empty means all")
	flags.Int(config.KeyWorkers, 0, "groups reconciled concurrently (0 = number of CPUs)")
	flags.String(config.KeyRules, "", "YAML rubric classification rules (default: built-in rules)")
}

// initConfig reads the config file and environment, binds the flags of the
// running command and installs the global logger
func initConfig(cmd *cobra.Command, _ []string) error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check that the config file exists and is valid YAML, JSON or TOML")
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "bind flags", err)
	}

	logCfg, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", logCfg.Output, err)
	}
	logger.SetGlobalLogger(log)

	if used := viper.ConfigFileUsed(); used != "" {
		logger.WithComponent("cli").WithField("file", used).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
