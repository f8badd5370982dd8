package cmd

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/cmd/reconciler/config"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/api"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/parsers"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciler over HTTP",
	Long: `Serve exposes the reconciler as a JSON API:

  GET  /health
  POST /api/v1/reconcile        one base and its candidates
  POST /api/v1/reconcile/batch  a JSON list of groups or a multipart "file"
  GET  /api/v1/runs             stored runs (needs --db)
  GET  /api/v1/runs/:id
  GET  /api/v1/radar?segment=   recurrence radar (needs --db)

When started with --config, changes to the reconciliation settings in that
file are applied without a restart.

Examples:
  reconciler serve
  reconciler serve --addr :9090 --db historico.db --config reconciler.yaml`,

	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String(config.KeyAddr, ":8080", "listen address")
	serveCmd.Flags().Float64(config.KeyRateLimit, 10, "requests per second per client on /api/v1 (0 disables)")
	serveCmd.Flags().Int(config.KeyRateBurst, 20, "burst allowed above the rate limit")
	serveCmd.Flags().String(config.KeyDB, "", "SQLite history database for runs and radar")
	serveCmd.Flags().String(config.KeyDelimiter, ";", "CSV delimiter of uploaded files")
	serveCmd.Flags().String(config.KeyEncoding, "utf-8", "CSV encoding of uploaded files")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithComponent("cli")
	v := viper.GetViper()

	apiCfg, err := config.CreateAPIConfig(v)
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
	parseCfg, err := config.CreateParseConfig(v)
	if err != nil {
		return err
	}
	parser, err := parsers.NewParser(parseCfg, nil)
	if err != nil {
		return err
	}

	opts := api.Options{
		Config:     apiCfg,
		Reconciler: rc,
		Classifier: cls,
		Parser:     parser,
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		// only set when open; a nil *Storage is not a nil Repository
		opts.Store = store
	}

	server, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	if file := viper.ConfigFileUsed(); file != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reload(server, e)
		})
		viper.WatchConfig()
		log.WithField("file", file).Info("Watching config file")
	}

	return server.Run(ctx)
}

// reload applies the reconciliation settings of a changed config file; a
// broken file keeps the running settings
func reload(server *api.Server, e fsnotify.Event) {
	log := logger.WithComponent("cli").WithFields(logger.Fields{"file": e.Name, "op": e.Op.String()})

	rc, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		log.WithError(err).Warn("Config change ignored")
		return
	}
	if err := server.UpdateReconciler(rc); err != nil {
		log.WithError(err).Warn("Config change ignored")
		return
	}
	log.Info("Config reloaded")
}
