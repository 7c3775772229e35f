package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconcileflow/cmd/reconciler/config"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Invoice to payment reconciliation",
	Long: `Reconciler matches open invoices against incoming bank transactions.

Every run is stored in a SQLite run store together with its candidate
pairs, accepted matches and the invoices and transactions left unmatched.

Examples:
  reconciler run --invoices invoices.csv --transactions bank.csv
  reconciler run -i invoices.csv -t bank.csv --dry-run --output-format json
  reconciler runs --limit 5
  reconciler report --run-id latest --output-format csv --output-file out/report.csv
  reconciler serve --port 8080`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.reconciler.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.String("db", config.DefaultDBPath, "path of the SQLite run store")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")

	viper.BindPFlag(config.KeyDB, pf.Lookup("db"))
	viper.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	config.ConfigureEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".reconciler")
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
				os.Exit(4)
			}
		}
	}

	if verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadRuntime resolves the effective configuration and installs the global
// logger it describes.
func loadRuntime() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = string(logger.DebugLevel)
	}

	log, err := logger.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, err
	}
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (*storage.SQLiteRepository, error) {
	repo, err := storage.NewSQLiteRepository(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}
	log.WithField("db", repo.Path()).Debug("Opened run store")
	return repo, nil
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
