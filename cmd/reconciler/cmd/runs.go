package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
)

var (
	runsLimit  int
	runsFormat string
)

// runsCmd lists stored runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs, newest first",
	Long: `Runs lists the runs kept in the run store with their status and KPIs.

Examples:
  reconciler runs
  reconciler runs --limit 5 --output-format json`,
	RunE: listRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", storage.DefaultRunLimit, "maximum number of runs to list")
	runsCmd.Flags().StringVarP(&runsFormat, "output-format", "f", "console", "output format: console, json")
}

func listRuns(cmd *cobra.Command, args []string) error {
	if runsLimit <= 0 {
		return errors.ValidationError(errors.CodeInvalidData, "limit", runsLimit, nil).
			WithSuggestion("use a positive --limit")
	}
	if runsFormat != "console" && runsFormat != "json" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", runsFormat, nil).
			WithSuggestion("use console or json")
	}

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	repo, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	runs, err := repo.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if runsFormat == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}
	return printRuns(cmd.OutOrStdout(), runs)
}

func printRuns(out io.Writer, runs []*storage.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs stored yet")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tCREATED\tSTATUS\tINVOICES\tTRANSACTIONS\tMATCHED\tRATE\tNOTES")
	for _, run := range runs {
		invoices, txns, matched, rate := "-", "-", "-", "-"
		if s := run.Summary; s != nil {
			invoices = fmt.Sprint(s.Invoices)
			txns = fmt.Sprint(s.Transactions)
			matched = fmt.Sprint(s.Matched)
			rate = fmt.Sprintf("%.1f%%", s.ReconciliationRate*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.RunID, run.CreatedAt.Local().Format(time.DateTime), run.Status(),
			invoices, txns, matched, rate, run.Notes)
	}
	return w.Flush()
}
