package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconcileflow/cmd/reconciler/config"
	"reconcileflow/pkg/errors"
)

const testInvoices = `invoice_id,invoice_number,issue_date,due_date,counterparty,amount,currency,reference,status
INV-1,1001,2024-01-01,2024-01-10,Acme Ltd,100.00,USD,INV 1001,open
INV-2,1002,2024-01-02,2024-01-12,Globex Corp,250.50,USD,INV 1002,open
INV-3,1003,2024-01-03,2024-01-15,Initech,75.00,USD,INV 1003,open
`

const testTransactions = `txn_id,txn_date,counterparty,amount,currency,direction,reference,description
T-1,2024-01-10,ACME LTD,100.00,USD,IN,1001,payment
T-2,2024-01-13,Globex Corporation,250.50,USD,CREDIT,INV-1002,wire
T-3,2024-01-05,Supplier,40.00,USD,OUT,,fees
`

// setupRun writes the input files, points the run store at a temp dir and
// resets the run flags.
func setupRun(t *testing.T) (dir string) {
	t.Helper()
	dir = t.TempDir()

	invoicesFile = filepath.Join(dir, "invoices.csv")
	transactionsFile = filepath.Join(dir, "transactions.csv")
	if err := os.WriteFile(invoicesFile, []byte(testInvoices), 0o644); err != nil {
		t.Fatalf("failed to write invoices: %v", err)
	}
	if err := os.WriteFile(transactionsFile, []byte(testTransactions), 0o644); err != nil {
		t.Fatalf("failed to write transactions: %v", err)
	}

	runNotes, ingestOnly, dryRun = "", false, false
	outputFormat, outputFile = "json", ""
	showProgress, noColor = false, true

	viper.Set(config.KeyDB, filepath.Join(dir, "store", "recon.sqlite"))
	viper.Set(config.KeyLogOutput, "discard")
	return dir
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetContext(context.Background())
	return c, &out
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "valid.csv")
	if err := os.WriteFile(validFile, []byte("test"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name     string
		filePath string
		wantCode errors.ErrorCode
	}{
		{"valid file", validFile, ""},
		{"empty path", "", errors.CodeMissingField},
		{"non-existent file", filepath.Join(tmpDir, "missing.csv"), errors.CodeFileNotFound},
		{"directory instead of file", tmpDir, errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("expected code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestValidateRunFlags(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(dir string)
		errorContains string
	}{
		{"valid flags", func(string) {}, ""},
		{"missing invoices", func(dir string) { invoicesFile = filepath.Join(dir, "nope.csv") }, "nope.csv"},
		{"invalid output format", func(string) { outputFormat = "xml" }, "output-format"},
		{"output file is a directory", func(dir string) { outputFile = dir }, "directory"},
		{"ingest-only with dry-run", func(string) { ingestOnly, dryRun = true, true }, "ingest-only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupRun(t)
			tt.setup(dir)

			err := validateRunFlags(runCmd, nil)
			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errorContains)
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("error %q should contain %q", err.Error(), tt.errorContains)
			}
		})
	}
}

func TestRunReconciliation(t *testing.T) {
	dir := setupRun(t)
	c, out := testCommand()

	if err := runReconciliation(c, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var report struct {
		Run struct {
			RunID string `json:"run_id"`
		} `json:"run"`
		Summary struct {
			Matched       int    `json:"matched"`
			MatchedAmount string `json:"matched_amount"`
		} `json:"summary"`
		Exceptions []struct {
			EntityID string `json:"entity_id"`
		} `json:"exceptions"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, out.String())
	}
	if report.Run.RunID == "" {
		t.Error("expected a run id")
	}
	if report.Summary.Matched != 2 {
		t.Errorf("matched = %d, want 2", report.Summary.Matched)
	}
	if report.Summary.MatchedAmount != "350.5" {
		t.Errorf("matched amount = %s, want 350.5", report.Summary.MatchedAmount)
	}
	if len(report.Exceptions) != 2 {
		t.Errorf("exceptions = %d, want INV-3 and T-3", len(report.Exceptions))
	}
	if _, err := os.Stat(filepath.Join(dir, "store", "recon.sqlite")); err != nil {
		t.Errorf("run store was not created: %v", err)
	}

	// the stored run renders the same summary
	reportRunID, reportFormat, reportFile = report.Run.RunID, "csv", ""
	c, out = testCommand()
	if err := renderStoredReport(c, nil); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if got := strings.Count(out.String(), "\nmatch,"); got != 2 {
		t.Errorf("csv report has %d match rows, want 2:\n%s", got, out.String())
	}

	runsLimit, runsFormat = 5, "console"
	c, out = testCommand()
	if err := listRuns(c, nil); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out.String(), report.Run.RunID) || !strings.Contains(out.String(), "completed") {
		t.Errorf("runs listing missing the run:\n%s", out.String())
	}
}

func TestRunReconciliation_DryRunLeavesNoStore(t *testing.T) {
	dir := setupRun(t)
	dryRun = true
	outputFormat = "console"
	c, out := testCommand()

	if err := runReconciliation(c, nil); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Dry run") {
		t.Errorf("console report should mention the dry run:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "store")); !os.IsNotExist(err) {
		t.Errorf("dry run should not create the run store, stat err = %v", err)
	}
}

func TestRunReconciliation_OutputFile(t *testing.T) {
	dir := setupRun(t)
	outputFile = filepath.Join(dir, "out", "report.json")
	c, out := testCommand()

	if err := runReconciliation(c, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "Report written to") {
		t.Errorf("expected a confirmation line, got %q", out.String())
	}
	data, err := os.ReadFile(outputFile)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	if !json.Valid(data) {
		t.Error("report file is not valid JSON")
	}
}

func TestRunReconciliation_InvalidParams(t *testing.T) {
	setupRun(t)
	viper.Set(config.KeyMaxCandidates, 0)
	defer viper.Set(config.KeyMaxCandidates, 30)

	c, _ := testCommand()
	err := runReconciliation(c, nil)
	if !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}

func TestGenerateThenRun(t *testing.T) {
	dir := setupRun(t)
	genDir = filepath.Join(dir, "generated")
	genConfig.Invoices, genConfig.MatchRatio, genConfig.NoiseRatio = 20, 0.5, 0

	c, out := testCommand()
	if err := generateDataset(c, nil); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Planted matches: 10") {
		t.Errorf("unexpected generate output:\n%s", out.String())
	}

	invoicesFile = filepath.Join(genDir, "invoices.csv")
	transactionsFile = filepath.Join(genDir, "transactions.csv")
	dryRun = true
	c, out = testCommand()
	if err := runReconciliation(c, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var report struct {
		Summary struct {
			Matched int `json:"matched"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if report.Summary.Matched != 10 {
		t.Errorf("matched = %d, want 10", report.Summary.Matched)
	}
}

func TestRunReconciliation_PrintsParseProblems(t *testing.T) {
	dir := setupRun(t)
	bad := testInvoices + "INV-4,1004,2024-01-04,2024-01-20,Hooli,twelve,USD,INV 1004,open\n"
	if err := os.WriteFile(invoicesFile, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	outputFormat = "console"
	dryRun = true
	c, out := testCommand()

	if err := runReconciliation(c, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), filepath.Join(dir, "invoices.csv")+": 1 row problem(s):") {
		t.Errorf("expected the invoice problem to be listed:\n%s", out.String())
	}
}

func TestRunCommandHelp(t *testing.T) {
	var help bytes.Buffer
	runCmd.SetOut(&help)
	defer runCmd.SetOut(nil)
	_ = runCmd.Help()

	for _, section := range []string{"Usage:", "Examples:", "Flags:", "--invoices", "--transactions", "--dry-run", "--ingest-only", "--min-score"} {
		if !strings.Contains(help.String(), section) {
			t.Errorf("help text should contain %q", section)
		}
	}
}

func TestFlagBinding(t *testing.T) {
	flagTests := []struct {
		flag string
		key  string
	}{
		{"preset", config.KeyPreset},
		{"min-score", config.KeyMinScore},
		{"date-window", config.KeyDateWindow},
		{"max-candidates", config.KeyMaxCandidates},
		{"amount-tolerance", config.KeyAmountTolerance},
		{"amount-band", config.KeyAmountBandCents},
		{"workers", config.KeyWorkers},
	}

	for _, tt := range flagTests {
		t.Run(tt.flag, func(t *testing.T) {
			if runCmd.Flags().Lookup(tt.flag) == nil {
				t.Fatalf("flag %q not found", tt.flag)
			}
			if !viper.IsSet(tt.key) {
				t.Errorf("viper key %q has no value", tt.key)
			}
		})
	}

	if rootCmd.PersistentFlags().Lookup("db") == nil {
		t.Error("db flag not found")
	}
	if serveCmd.Flags().Lookup("port") == nil {
		t.Error("port flag not found")
	}
}

func TestPrintConfig(t *testing.T) {
	setupRun(t)
	configPreset = "strict"
	defer func() {
		configPreset = ""
		viper.Set(config.KeyPreset, "default")
	}()

	c, out := testCommand()
	if err := printConfig(c, nil); err != nil {
		t.Fatalf("config failed: %v", err)
	}
	for _, want := range []string{"matching:", "preset: strict", "min_score: 60", "date_window_days: 2", "port: 8080"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("config output should contain %q:\n%s", want, out.String())
		}
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains string
	}{
		{"nil", nil, 0, ""},
		{"file", errors.FileError(errors.CodeFileNotFound, "x.csv", os.ErrNotExist), 2, "File error help"},
		{"validation", errors.ValidationError(errors.CodeMissingField, "invoices", "", nil), 3, "Validation error help"},
		{"configuration", errors.ConfigurationError(errors.CodeInvalidConfig, "db", "", nil).WithSuggestion("pass --db"), 4, "Suggestion: pass --db"},
		{"storage", errors.StorageError(errors.CodeRunNotFound, "abc", nil), 6, "reconciler runs"},
		{"plain not-exist", fmt.Errorf("open: %w", os.ErrNotExist), 2, "File not found"},
		{"generic", fmt.Errorf("unknown flag: --bogus"), 1, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := NewCLIErrorHandler(&out).HandleError(tt.err)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(out.String(), tt.contains) {
				t.Errorf("output should contain %q:\n%s", tt.contains, out.String())
			}
		})
	}
}
