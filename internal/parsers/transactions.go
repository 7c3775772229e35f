package parsers

import (
	"context"
	"io"

	"reconcileflow/internal/models"
	"reconcileflow/internal/normalize"
	"reconcileflow/pkg/logger"
)

// TransactionParser reads bank transaction exports
type TransactionParser struct {
	*BaseParser
	logger logger.Logger
}

// NewTransactionParser creates a TransactionParser. A nil config uses DefaultParserConfig.
func NewTransactionParser(config *ParserConfig, log logger.Logger) (*TransactionParser, error) {
	return NewTransactionParserWithSchema(config, TransactionSchema(), log)
}

// NewTransactionParserWithSchema creates a TransactionParser with a custom schema
func NewTransactionParserWithSchema(config *ParserConfig, schema *Schema, log logger.Logger) (*TransactionParser, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	base, err := NewBaseParser(config, schema, log)
	if err != nil {
		return nil, err
	}
	return &TransactionParser{BaseParser: base, logger: log.WithComponent("transaction_parser")}, nil
}

// ParseFile parses a transaction CSV file
func (p *TransactionParser) ParseFile(ctx context.Context, path string) ([]*models.Transaction, *ParseStats, error) {
	rows, stats, err := p.ReadFile(ctx, path)
	if err != nil {
		return nil, stats, err
	}
	return p.build(rows, stats), stats, nil
}

// Parse parses transactions from r. name identifies the source in problems.
func (p *TransactionParser) Parse(ctx context.Context, r io.Reader, name string) ([]*models.Transaction, *ParseStats, error) {
	rows, stats, err := p.ReadRows(ctx, r, name)
	if err != nil {
		return nil, stats, err
	}
	return p.build(rows, stats), stats, nil
}

func (p *TransactionParser) build(rows []*Row, stats *ParseStats) []*models.Transaction {
	txns := make([]*models.Transaction, 0, len(rows))
	outbound := 0
	for _, row := range rows {
		txn := p.transactionFromRow(row, stats)
		if !txn.IsEligible() {
			outbound++
		}
		txns = append(txns, txn)
	}

	p.logger.WithFields(logger.Fields{
		"file":         stats.File,
		"transactions": len(txns),
		"outbound":     outbound,
		"problems":     stats.ProblemCount(),
	}).Info("Parsed transactions")

	if stats.HasProblems() {
		p.logger.WithField("sample_problems", stats.SampleProblems(3)).Warn("Encountered problems while parsing transactions")
	}
	return txns
}

func (p *TransactionParser) transactionFromRow(row *Row, stats *ParseStats) *models.Transaction {
	txn := &models.Transaction{
		TxnID:        row.Get(ColTxnID),
		Counterparty: row.Get(ColCounterparty),
		Currency:     row.Get(ColCurrency),
		Direction:    models.ParseDirection(row.Get(ColDirection)),
		Reference:    row.Get(ColReference),
		Description:  row.Get(ColDescription),
		Raw:          row.Raw,
	}
	txn.CounterpartyNorm = normalize.Text(txn.Counterparty)
	txn.ReferenceNorm = normalize.Reference(txn.Reference)

	if raw := row.Get(ColAmount); raw != "" {
		txn.Amount = normalize.Amount(raw)
		if !txn.Amount.Valid {
			stats.AddProblem(amountProblem(stats.File, row.Line, raw))
		}
	}

	txn.TxnDate = parseDateField(row, ColTxnDate, stats)
	return txn
}
