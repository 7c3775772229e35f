// Package reporter renders reconciliation runs for people and for tools.
//
// Supported output formats:
//   - Console: summary, top matches and exceptions for terminal display
//   - JSON: the complete report for programmatic consumption
//   - CSV: one row per match and per exception for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(reporter.FromResult(result), os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"reconcileflow/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Console options
	UseColors     bool `json:"use_colors"`
	MaxMatches    int  `json:"max_matches"`
	MaxExceptions int  `json:"max_exceptions"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:        FormatConsole,
		UseColors:     true,
		MaxMatches:    10,
		MaxExceptions: 20,
		CSVDelimiter:  ',',
		CSVHeaders:    true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxMatches < 0 || c.MaxExceptions < 0 {
		return fmt.Errorf("console limits cannot be negative")
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig

	heading *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	dim     *color.Color
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	rg := &ReportGenerator{
		config:  config,
		heading: color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
	}
	if !config.UseColors {
		for _, c := range []*color.Color{rg.heading, rg.good, rg.warn, rg.bad, rg.dim} {
			c.DisableColor()
		}
	}
	return rg, nil
}

// GenerateReport writes the report to writer in the configured format
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// Config returns the generator configuration
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

func (rg *ReportGenerator) generateConsoleReport(report *Report, out io.Writer) error {
	writer := &errWriter{w: out}
	rg.heading.Fprintf(writer, "RECONCILIATION REPORT\n")
	if report.Run != nil {
		fmt.Fprintf(writer, "Run:           %s (%s)\n", report.Run.RunID, report.Run.Status())
		fmt.Fprintf(writer, "Created:       %s\n", report.Run.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(writer, "Invoices:      %s\n", report.Run.InvoicesSource)
		fmt.Fprintf(writer, "Transactions:  %s\n", report.Run.TransactionsSource)
		if report.Run.Notes != "" {
			fmt.Fprintf(writer, "Notes:         %s\n", report.Run.Notes)
		}
	}
	if report.DryRun {
		rg.warn.Fprintf(writer, "Dry run: nothing was stored\n")
	}
	fmt.Fprintln(writer)

	rg.heading.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(report, writer)
	fmt.Fprintln(writer)

	if report.IngestOnly {
		rg.warn.Fprintf(writer, "Ingest-only run: matching was not executed\n")
		return writer.err
	}

	rg.heading.Fprintf(writer, "=== TOP MATCHES ===\n")
	rg.printMatches(report, writer)
	fmt.Fprintln(writer)

	rg.heading.Fprintf(writer, "=== EXCEPTIONS ===\n")
	rg.printExceptions(report, writer)

	if report.Audit != nil && len(report.Audit.Warnings) > 0 {
		fmt.Fprintln(writer)
		rg.heading.Fprintf(writer, "=== INPUT WARNINGS ===\n")
		for _, w := range report.Audit.Warnings {
			rg.warn.Fprintf(writer, "  - %s\n", w)
		}
	}
	return writer.err
}

func (rg *ReportGenerator) printSummary(report *Report, writer io.Writer) {
	s := report.Summary
	fmt.Fprintf(writer, "Invoices:               %d\n", s.Invoices)
	fmt.Fprintf(writer, "Transactions:           %d\n", s.Transactions)

	rate := rg.good
	switch {
	case s.ReconciliationRate < 0.5:
		rate = rg.bad
	case s.ReconciliationRate < 0.9:
		rate = rg.warn
	}
	fmt.Fprintf(writer, "Matched:                %d (", s.Matched)
	rate.Fprintf(writer, "%.1f%%", s.ReconciliationRate*100)
	fmt.Fprintf(writer, ")\n")

	fmt.Fprintf(writer, "Unmatched invoices:     %d\n", s.UnmatchedInvoices)
	fmt.Fprintf(writer, "Unmatched transactions: %d\n", s.UnmatchedTransactions)
	fmt.Fprintf(writer, "Invoice total:          %s\n", s.InvoiceTotal.StringFixed(2))
	fmt.Fprintf(writer, "Transaction total:      %s\n", s.TransactionTotal.StringFixed(2))
	fmt.Fprintf(writer, "Matched amount:         %s\n", s.MatchedAmount.StringFixed(2))
	if s.CandidateEdges > 0 {
		fmt.Fprintf(writer, "Candidate edges:        %d\n", s.CandidateEdges)
	}
}

func (rg *ReportGenerator) printMatches(report *Report, writer io.Writer) {
	if len(report.Matches) == 0 {
		rg.dim.Fprintf(writer, "No matches\n")
		return
	}
	for i, m := range report.Matches {
		if rg.config.MaxMatches > 0 && i >= rg.config.MaxMatches {
			rg.dim.Fprintf(writer, "  ... and %d more\n", len(report.Matches)-i)
			break
		}
		fmt.Fprintf(writer, "  %d. %s <-> %s  ", i+1, m.InvoiceID, m.TxnID)
		rg.good.Fprintf(writer, "%.1f", m.Score)
		rg.dim.Fprintf(writer, "  %s\n", m.Evidence)
	}
}

func (rg *ReportGenerator) printExceptions(report *Report, writer io.Writer) {
	if len(report.Exceptions) == 0 {
		rg.good.Fprintf(writer, "No exceptions\n")
		return
	}

	groups := []struct {
		title string
		kind  models.ExceptionKind
	}{
		{"Unmatched invoices", models.UnmatchedInvoice},
		{"Unmatched transactions", models.UnmatchedTransaction},
	}
	for _, g := range groups {
		excs := report.exceptionsOf(g.kind)
		if len(excs) == 0 {
			continue
		}
		rg.bad.Fprintf(writer, "%s (%d):\n", g.title, len(excs))
		for i, exc := range excs {
			if rg.config.MaxExceptions > 0 && i >= rg.config.MaxExceptions {
				rg.dim.Fprintf(writer, "  ... and %d more\n", len(excs)-i)
				break
			}
			fmt.Fprintf(writer, "  - %s: %s\n", exc.EntityID, exc.Reason)
		}
	}
}

func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// csvHeaders are shared by match and exception rows
var csvHeaders = []string{"record_type", "run_id", "invoice_id", "txn_id", "score", "evidence", "kind", "details", "timestamp"}

func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	runID := ""
	if report.Run != nil {
		runID = report.Run.RunID
	}

	for _, m := range report.Matches {
		record := []string{
			"match",
			runID,
			m.InvoiceID,
			m.TxnID,
			fmt.Sprintf("%.2f", m.Score),
			m.Evidence.String(),
			"",
			"",
			formatTimestamp(m.MatchedAt),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write match record: %w", err)
		}
	}

	for _, exc := range report.Exceptions {
		record := []string{"exception", runID, "", "", "", "", string(exc.Kind), exc.Reason, formatTimestamp(exc.CreatedAt)}
		if exc.EntityType == models.EntityInvoice {
			record[2] = exc.EntityID
		} else {
			record[3] = exc.EntityID
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write exception record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// errWriter keeps the first write error so console output can be written
// without checking every call.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ParseFormat converts a flag value to an OutputFormat
func ParseFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("unsupported output format %q (use console, json or csv)", s)
	}
	return f, nil
}
