package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/internal/reconciler"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestReport() *Report {
	return &Report{
		Run: &storage.Run{
			RunID:              "abc123def456",
			CreatedAt:          testTime,
			InvoicesSource:     "invoices.csv",
			TransactionsSource: "bank.csv",
			Notes:              "march close",
			CompletedAt:        &testTime,
		},
		Summary: matcher.Summary{
			Invoices:              3,
			Transactions:          4,
			Matched:               2,
			ReconciliationRate:    2.0 / 3.0,
			UnmatchedInvoices:     1,
			UnmatchedTransactions: 2,
			InvoiceTotal:          decimal.RequireFromString("425.50"),
			TransactionTotal:      decimal.RequireFromString("1389.50"),
			MatchedAmount:         decimal.RequireFromString("350.50"),
			CandidateEdges:        2,
		},
		Matches: []storage.Match{
			{CandidateEdge: models.CandidateEdge{InvoiceID: "INV-1", TxnID: "T-1", Score: 118, Evidence: models.Evidence{"amount:exact", "ref:100", "cp:100", "date:0"}}, MatchedAt: testTime},
			{CandidateEdge: models.CandidateEdge{InvoiceID: "INV-2", TxnID: "T-2", Score: 104, Evidence: models.Evidence{"amount:exact", "ref:100", "cp:76", "date:1"}}, MatchedAt: testTime},
		},
		Exceptions: []models.Exception{
			{ID: "e1", Kind: models.UnmatchedInvoice, EntityType: models.EntityInvoice, EntityID: "INV-3", Reason: models.ReasonNoMatch, CreatedAt: testTime},
			{ID: "e2", Kind: models.UnmatchedTransaction, EntityType: models.EntityTransaction, EntityID: "T-3", Reason: models.ReasonNoMatch, CreatedAt: testTime},
			{ID: "e3", Kind: models.UnmatchedTransaction, EntityType: models.EntityTransaction, EntityID: "T-4", Reason: models.ReasonNoMatch, CreatedAt: testTime},
		},
		GeneratedAt: testTime,
	}
}

func newTestGenerator(t *testing.T, format OutputFormat) *ReportGenerator {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	config.UseColors = false
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator() error = %v", err)
	}
	return generator
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{name: "default config", config: nil},
		{name: "valid config", config: DefaultReportConfig()},
		{name: "invalid format", config: &ReportConfig{Format: "xml"}, expectError: true},
		{name: "negative limit", config: &ReportConfig{Format: FormatConsole, MaxMatches: -1}, expectError: true},
		{name: "csv without delimiter", config: &ReportConfig{Format: FormatCSV}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if generator.Config() == nil {
				t.Error("generator has no config")
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"console", "JSON", " csv "} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", in, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("ParseFormat(pdf) should fail")
	}
}

func TestGenerateConsoleReport(t *testing.T) {
	var buf bytes.Buffer
	if err := newTestGenerator(t, FormatConsole).GenerateReport(createTestReport(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"RECONCILIATION REPORT",
		"abc123def456 (completed)",
		"Notes:         march close",
		"Matched:                2 (66.7%)",
		"Invoice total:          425.50",
		"Matched amount:         350.50",
		"1. INV-1 <-> T-1  118.0  amount:exact;ref:100;cp:100;date:0",
		"Unmatched invoices (1):",
		"  - INV-3: No match found",
		"Unmatched transactions (2):",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console report missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("console report contains color codes with colors disabled")
	}
}

func TestGenerateConsoleReport_Limits(t *testing.T) {
	config := DefaultReportConfig()
	config.UseColors = false
	config.MaxMatches = 1
	config.MaxExceptions = 1
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(createTestReport(), &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "INV-2 <-> T-2") {
		t.Error("match limit not applied")
	}
	if !strings.Contains(out, "... and 1 more") {
		t.Errorf("expected truncation notice\n%s", out)
	}
}

func TestGenerateConsoleReport_IngestOnly(t *testing.T) {
	report := createTestReport()
	report.IngestOnly = true
	report.DryRun = true

	var buf bytes.Buffer
	if err := newTestGenerator(t, FormatConsole).GenerateReport(report, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Ingest-only run") || !strings.Contains(out, "Dry run") {
		t.Errorf("missing run mode notices\n%s", out)
	}
	if strings.Contains(out, "TOP MATCHES") {
		t.Error("ingest-only report should not list matches")
	}
}

func TestGenerateJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := newTestGenerator(t, FormatJSON).GenerateReport(createTestReport(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	var decoded struct {
		Run struct {
			RunID string `json:"run_id"`
		} `json:"run"`
		Summary struct {
			Matched       int    `json:"matched"`
			MatchedAmount string `json:"matched_amount"`
		} `json:"summary"`
		Matches []struct {
			InvoiceID string   `json:"invoice_id"`
			Evidence  []string `json:"evidence"`
		} `json:"matches"`
		Exceptions []struct {
			Kind    string `json:"kind"`
			Details string `json:"details"`
		} `json:"exceptions"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if decoded.Run.RunID != "abc123def456" || decoded.Summary.Matched != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Summary.MatchedAmount != "350.5" {
		t.Errorf("matched_amount = %q", decoded.Summary.MatchedAmount)
	}
	if len(decoded.Matches) != 2 || len(decoded.Matches[0].Evidence) != 4 {
		t.Errorf("matches = %+v", decoded.Matches)
	}
	if len(decoded.Exceptions) != 3 || decoded.Exceptions[0].Details != models.ReasonNoMatch {
		t.Errorf("exceptions = %+v", decoded.Exceptions)
	}
}

func TestGenerateCSVReport(t *testing.T) {
	var buf bytes.Buffer
	if err := newTestGenerator(t, FormatCSV).GenerateReport(createTestReport(), &buf); err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("records = %d, want header + 2 matches + 3 exceptions", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(csvHeaders, ",") {
		t.Errorf("header = %v", records[0])
	}

	match := records[1]
	if match[0] != "match" || match[2] != "INV-1" || match[3] != "T-1" || match[4] != "118.00" {
		t.Errorf("match row = %v", match)
	}
	if match[8] != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamp = %q", match[8])
	}

	invoiceExc := records[3]
	if invoiceExc[0] != "exception" || invoiceExc[2] != "INV-3" || invoiceExc[3] != "" || invoiceExc[6] != "UNMATCHED_INVOICE" {
		t.Errorf("invoice exception row = %v", invoiceExc)
	}
	txnExc := records[4]
	if txnExc[2] != "" || txnExc[3] != "T-3" {
		t.Errorf("transaction exception row = %v", txnExc)
	}
}

func TestGenerateReport_Nil(t *testing.T) {
	if err := newTestGenerator(t, FormatJSON).GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for a nil report")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, os.ErrClosed
}

func TestSafeReportGenerator(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	config.UseColors = false
	safe, err := NewSafeReportGenerator(config, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := safe.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected validation error for nil report")
	}
	if err := safe.GenerateReportSafely(createTestReport(), failingWriter{}); err == nil {
		t.Error("expected an error when both formats fail to write")
	}

	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, nil); err == nil {
		t.Error("expected configuration error")
	}
}

func TestSafeReportGenerator_ConsoleWriteErrorIsWrapped(t *testing.T) {
	config := DefaultReportConfig()
	config.UseColors = false
	safe, err := NewSafeReportGenerator(config, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	err = safe.GenerateReportSafely(createTestReport(), failingWriter{})
	if !errors.IsCode(err, errors.CodeUnexpectedError) {
		t.Errorf("expected unexpected_error, got %v", err)
	}
}

func TestSafeReportGenerator_WriteFile(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	safe, err := NewSafeReportGenerator(config, logger.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out", "report.csv")
	if err := safe.WriteFile(createTestReport(), path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "record_type,run_id") {
		t.Errorf("unexpected file content: %q", string(data))
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestFromResult(t *testing.T) {
	processed := testTime
	result := &reconciler.Result{
		Run: &storage.Run{RunID: "r1"},
		Match: &matcher.Result{
			Matches:    []models.CandidateEdge{{InvoiceID: "INV-1", TxnID: "T-1", Score: 90}},
			Exceptions: []models.Exception{{Kind: models.UnmatchedTransaction, EntityID: "T-2"}},
			Summary:    matcher.Summary{Matched: 1},
		},
		DryRun:      true,
		ProcessedAt: processed,
	}

	report := FromResult(result)
	if len(report.Matches) != 1 || !report.Matches[0].MatchedAt.Equal(processed) {
		t.Errorf("matches = %+v", report.Matches)
	}
	if len(report.Exceptions) != 1 || report.Summary.Matched != 1 || !report.DryRun {
		t.Errorf("report = %+v", report)
	}

	ingest := FromResult(&reconciler.Result{Run: &storage.Run{RunID: "r2"}, IngestOnly: true})
	if len(ingest.Matches) != 0 || !ingest.IngestOnly {
		t.Errorf("ingest-only report = %+v", ingest)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryRepository()

	if _, err := Load(ctx, repo, LatestRun); err == nil {
		t.Error("expected run_not_found on an empty store")
	}

	run := &storage.Run{InvoicesSource: "i.csv"}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	invoices := []*models.Invoice{{InvoiceID: "INV-1", Amount: models.NewAmount("10")}}
	if err := repo.SaveInvoices(ctx, run.RunID, invoices); err != nil {
		t.Fatal(err)
	}

	// an ingest-only run reports totals computed from the stored entities
	report, err := Load(ctx, repo, run.RunID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !report.IngestOnly || report.Summary.Invoices != 1 || report.Summary.InvoiceTotal.StringFixed(2) != "10.00" {
		t.Errorf("ingest-only report = %+v", report.Summary)
	}

	edge := models.CandidateEdge{InvoiceID: "INV-1", TxnID: "T-1", Score: 80}
	if err := repo.SaveMatches(ctx, run.RunID, []models.CandidateEdge{edge}, testTime); err != nil {
		t.Fatal(err)
	}
	if err := repo.CompleteRun(ctx, run.RunID, matcher.Summary{Invoices: 1, Matched: 1, ReconciliationRate: 1}); err != nil {
		t.Fatal(err)
	}

	report, err = Load(ctx, repo, "")
	if err != nil {
		t.Fatalf("Load(latest) error = %v", err)
	}
	if report.IngestOnly || report.Summary.Matched != 1 || len(report.Matches) != 1 {
		t.Errorf("completed report = %+v", report)
	}
}
