package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconcileflow/cmd/reconciler/config"
	"reconcileflow/internal/parsers"
	"reconcileflow/internal/reconciler"
	"reconcileflow/internal/reporter"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// Flags for the run command
var (
	invoicesFile     string
	transactionsFile string
	runNotes         string
	ingestOnly       bool
	dryRun           bool
	outputFormat     string
	outputFile       string
	showProgress     bool
	noColor          bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile an invoices file against a bank transactions file",
	Long: `Run ingests an invoices CSV and a bank transactions CSV, stores both in
the run store, matches invoices to inbound payments and reports the result.

Examples:
  # Basic run
  reconciler run --invoices invoices.csv --transactions bank.csv

  # Store the inputs only, match later
  reconciler run -i invoices.csv -t bank.csv --ingest-only --notes "january close"

  # Try stricter parameters without touching the run store
  reconciler run -i invoices.csv -t bank.csv --dry-run --preset strict --min-score 80

  # JSON report written to a file
  reconciler run -i invoices.csv -t bank.csv --output-format json --output-file out/run.json`,

	PreRunE: validateRunFlags,
	RunE:    runReconciliation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&invoicesFile, "invoices", "i", "", "path to the invoices CSV file (required)")
	f.StringVarP(&transactionsFile, "transactions", "t", "", "path to the bank transactions CSV file (required)")
	f.StringVar(&runNotes, "notes", "", "free text stored with the run")
	f.BoolVar(&ingestOnly, "ingest-only", false, "store the inputs and skip matching")
	f.BoolVar(&dryRun, "dry-run", false, "run everything against a throwaway in-memory store")

	f.String("preset", "default", "matching preset: default, strict, relaxed")
	f.Float64("min-score", 35, "drop candidate pairs scoring below this")
	f.Int("date-window", 5, "keep transactions dated within due date ± this many days")
	f.Int("max-candidates", 30, "maximum candidate pairs kept per invoice")
	f.Float64("amount-tolerance", 0, "widen the amount band to this fraction of the invoice amount (0 keeps the fixed band)")
	f.Int64("amount-band", 3, "fixed half-width of the amount band in cents")
	f.Int("workers", 0, "goroutines generating candidates (0 uses all CPUs)")

	f.StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	f.StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	f.BoolVar(&showProgress, "progress", false, "print pipeline progress to stderr")
	f.BoolVar(&noColor, "no-color", false, "disable colored console output")

	runCmd.MarkFlagRequired("invoices")
	runCmd.MarkFlagRequired("transactions")

	viper.BindPFlag(config.KeyPreset, f.Lookup("preset"))
	viper.BindPFlag(config.KeyMinScore, f.Lookup("min-score"))
	viper.BindPFlag(config.KeyDateWindow, f.Lookup("date-window"))
	viper.BindPFlag(config.KeyMaxCandidates, f.Lookup("max-candidates"))
	viper.BindPFlag(config.KeyAmountTolerance, f.Lookup("amount-tolerance"))
	viper.BindPFlag(config.KeyAmountBandCents, f.Lookup("amount-band"))
	viper.BindPFlag(config.KeyWorkers, f.Lookup("workers"))
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(invoicesFile, "invoices file"); err != nil {
		return err
	}
	if err := validateFileExists(transactionsFile, "transactions file"); err != nil {
		return err
	}
	if ingestOnly && dryRun {
		return errors.ValidationError(errors.CodeInvalidData, "ingest-only", true, nil).
			WithSuggestion("--ingest-only stores inputs for a later run and cannot be combined with --dry-run")
	}
	return validateOutputFlags(outputFormat, outputFile)
}

// validateFileExists checks that path names a readable regular file
func validateFileExists(path, description string) error {
	if path == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.FileError(errors.CodeFileNotFound, path, err).
			WithContext("description", description)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, path, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file.Close()
}

func validateOutputFlags(format, file string) error {
	if _, err := config.CreateReportConfig(format, false); err != nil {
		return err
	}
	if file != "" {
		if info, err := os.Stat(file); err == nil && info.IsDir() {
			return errors.FileError(errors.CodeInvalidFormat, file, fmt.Errorf("output file is a directory"))
		}
	}
	return nil
}

func runReconciliation(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo storage.Repository
	if dryRun {
		repo = storage.NewMemoryRepository()
	} else {
		store, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		repo = store
	}
	defer repo.Close()

	log.WithFields(logger.Fields{
		"invoices":     invoicesFile,
		"transactions": transactionsFile,
		"params":       cfg.Describe(),
	}).Debug("Starting run")

	result, err := reconcile(ctx, repo, cfg, log, &reconciler.Request{
		InvoicesPath:     invoicesFile,
		TransactionsPath: transactionsFile,
		Notes:            runNotes,
		IngestOnly:       ingestOnly,
		DryRun:           dryRun,
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	printParseProblems(cmd.ErrOrStderr(), result.InvoiceStats, result.TransactionStats)

	return writeReport(cmd.OutOrStdout(), reporter.FromResult(result), outputFormat, outputFile, log)
}

// maxShownProblems bounds the parse problems printed per file
const maxShownProblems = 5

// printParseProblems lists row problems for each input file that had any
func printParseProblems(w io.Writer, stats ...*parsers.ParseStats) {
	for _, st := range stats {
		if st == nil || !st.HasProblems() {
			continue
		}
		fmt.Fprintf(w, "%s: %s", st.File, errors.FormatProblems(st.Problems(), maxShownProblems))
	}
}

// reconcile runs one request against repo with the parameters from cfg
func reconcile(ctx context.Context, repo storage.Repository, cfg *config.Config, log logger.Logger, request *reconciler.Request, progressOut io.Writer) (*reconciler.Result, error) {
	svcConfig := reconciler.DefaultConfig()
	svcConfig.Params = cfg.Params()

	service, err := reconciler.NewReconciliationService(repo, svcConfig, log)
	if err != nil {
		return nil, err
	}
	if showProgress {
		service.AddProgressCallback(func(p reconciler.ReconciliationProgress) {
			fmt.Fprintf(progressOut, "[%d/%d] %s (%.0f%%)\n", p.CompletedSteps, p.TotalSteps, p.CurrentStep, p.PercentComplete)
			if p.CurrentStep == reconciler.StepPersisting && p.Generation != nil {
				fmt.Fprintf(progressOut, "      %s\n", p.Generation)
			}
		})
	}
	return service.Run(ctx, request)
}

// writeReport renders report to file when one is given, otherwise to out
func writeReport(out io.Writer, report *reporter.Report, format, file string, log logger.Logger) error {
	reportConfig, err := config.CreateReportConfig(format, useColors(out, file))
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	if file != "" {
		if err := generator.WriteFile(report, file); err != nil {
			return err
		}
		abs, _ := filepath.Abs(file)
		fmt.Fprintf(out, "Report written to %s\n", abs)
		return nil
	}
	return generator.GenerateReportSafely(report, out)
}

// useColors reports whether console output goes to a color capable terminal
func useColors(out io.Writer, file string) bool {
	if noColor || file != "" || color.NoColor {
		return false
	}
	return out == os.Stdout
}
