package cmd

import (
	"github.com/spf13/cobra"

	"reconcileflow/internal/reporter"
)

var (
	reportRunID  string
	reportFormat string
	reportFile   string
)

// reportCmd renders a stored run
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the report of a stored run",
	Long: `Report loads a run from the run store and renders its summary, matches
and exceptions.

Examples:
  reconciler report
  reconciler report --run-id 3f9a1c2b7d4e --output-format json
  reconciler report --run-id latest --output-format csv --output-file out/latest.csv`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateOutputFlags(reportFormat, reportFile)
	},
	RunE: renderStoredReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run-id", reporter.LatestRun, "run to report, or \"latest\"")
	reportCmd.Flags().StringVarP(&reportFormat, "output-format", "f", "console", "output format: console, json, csv")
	reportCmd.Flags().StringVarP(&reportFile, "output-file", "o", "", "output file path (default: stdout)")
	reportCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored console output")
}

func renderStoredReport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	repo, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	report, err := reporter.Load(cmd.Context(), repo, reportRunID)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), report, reportFormat, reportFile, log)
}
