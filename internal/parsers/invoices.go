package parsers

import (
	"context"
	"io"
	"time"

	"reconcileflow/internal/models"
	"reconcileflow/internal/normalize"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// InvoiceParser reads invoice exports
type InvoiceParser struct {
	*BaseParser
	logger logger.Logger
}

// NewInvoiceParser creates an InvoiceParser. A nil config uses DefaultParserConfig.
func NewInvoiceParser(config *ParserConfig, log logger.Logger) (*InvoiceParser, error) {
	return NewInvoiceParserWithSchema(config, InvoiceSchema(), log)
}

// NewInvoiceParserWithSchema creates an InvoiceParser that resolves headers
// through a custom schema, e.g. one with extra aliases.
func NewInvoiceParserWithSchema(config *ParserConfig, schema *Schema, log logger.Logger) (*InvoiceParser, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	base, err := NewBaseParser(config, schema, log)
	if err != nil {
		return nil, err
	}
	return &InvoiceParser{BaseParser: base, logger: log.WithComponent("invoice_parser")}, nil
}

// ParseFile parses an invoice CSV file
func (p *InvoiceParser) ParseFile(ctx context.Context, path string) ([]*models.Invoice, *ParseStats, error) {
	rows, stats, err := p.ReadFile(ctx, path)
	if err != nil {
		return nil, stats, err
	}
	return p.build(rows, stats), stats, nil
}

// Parse parses invoices from r. name identifies the source in problems.
func (p *InvoiceParser) Parse(ctx context.Context, r io.Reader, name string) ([]*models.Invoice, *ParseStats, error) {
	rows, stats, err := p.ReadRows(ctx, r, name)
	if err != nil {
		return nil, stats, err
	}
	return p.build(rows, stats), stats, nil
}

func (p *InvoiceParser) build(rows []*Row, stats *ParseStats) []*models.Invoice {
	invoices := make([]*models.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, p.invoiceFromRow(row, stats))
	}

	p.logger.WithFields(logger.Fields{
		"file":     stats.File,
		"invoices": len(invoices),
		"problems": stats.ProblemCount(),
	}).Info("Parsed invoices")

	if stats.HasProblems() {
		p.logger.WithField("sample_problems", stats.SampleProblems(3)).Warn("Encountered problems while parsing invoices")
	}
	return invoices
}

func (p *InvoiceParser) invoiceFromRow(row *Row, stats *ParseStats) *models.Invoice {
	inv := &models.Invoice{
		InvoiceID:     row.Get(ColInvoiceID),
		InvoiceNumber: row.Get(ColInvoiceNumber),
		Counterparty:  row.Get(ColCounterparty),
		Currency:      row.Get(ColCurrency),
		Reference:     row.Get(ColReference),
		Status:        row.Get(ColStatus),
		Raw:           row.Raw,
	}
	inv.CounterpartyNorm = normalize.Text(inv.Counterparty)
	inv.ReferenceNorm = normalize.Reference(inv.Reference)

	if raw := row.Get(ColAmount); raw != "" {
		inv.Amount = normalize.Amount(raw)
		if !inv.Amount.Valid {
			stats.AddProblem(amountProblem(stats.File, row.Line, raw))
		}
	}

	inv.IssueDate = parseDateField(row, ColIssueDate, stats)
	inv.DueDate = parseDateField(row, ColDueDate, stats)
	return inv
}

func parseDateField(row *Row, column string, stats *ParseStats) *time.Time {
	raw := row.Get(column)
	if raw == "" {
		return nil
	}
	d := normalize.Date(raw)
	if d == nil {
		stats.AddProblem(errors.ParseError(errors.CodeInvalidDate, stats.File, row.Line, column, raw, nil).
			WithSuggestion("the date is ignored; use YYYY-MM-DD"))
	}
	return d
}

func amountProblem(file string, line int, raw string) *errors.ReconcilerError {
	return errors.ParseError(errors.CodeInvalidAmount, file, line, ColAmount, raw, nil).
		WithSuggestion("the amount is ignored; use a decimal number like 1234.56")
}
