package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconcileflow/cmd/reconciler/config"
)

var configPreset string

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config prints the configuration that results from defaults, the config
file, RECONCILER_* environment variables and flags. The output can be saved
as $HOME/.reconciler.yaml.

Examples:
  reconciler config
  RECONCILER_MATCHING_MIN_SCORE=50 reconciler config
  reconciler config --preset relaxed > ~/.reconciler.yaml`,
	RunE: printConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().StringVar(&configPreset, "preset", "", "show the values of a matching preset")
}

func printConfig(cmd *cobra.Command, args []string) error {
	if configPreset != "" {
		viper.Set(config.KeyPreset, configPreset)
	}
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
