package reconciler

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/parsers"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/logger"
)

// parseInputs parses the invoice and transaction files concurrently
func (rs *ReconciliationService) parseInputs(ctx context.Context, request *Request, result *Result) error {
	invoiceParser, err := parsers.NewInvoiceParser(rs.config.Parser, rs.logger)
	if err != nil {
		return err
	}
	txnParser, err := parsers.NewTransactionParser(rs.config.Parser, rs.logger)
	if err != nil {
		return err
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		invoices, stats, err := invoiceParser.ParseFile(ctx, request.InvoicesPath)
		if err != nil {
			return err
		}
		result.Invoices, result.InvoiceStats = invoices, stats
		return nil
	})
	p.Go(func(ctx context.Context) error {
		txns, stats, err := txnParser.ParseFile(ctx, request.TransactionsPath)
		if err != nil {
			return err
		}
		result.Transactions, result.TransactionStats = txns, stats
		return nil
	})
	return p.Wait()
}

// ingest registers the run and stores its entities
func (rs *ReconciliationService) ingest(ctx context.Context, repo storage.Repository, run *storage.Run, result *Result) error {
	if err := repo.CreateRun(ctx, run); err != nil {
		return err
	}
	if err := repo.SaveInvoices(ctx, run.RunID, result.Invoices); err != nil {
		return err
	}
	if err := repo.SaveTransactions(ctx, run.RunID, result.Transactions); err != nil {
		return err
	}

	rs.logger.WithFields(logger.Fields{
		"run_id":       run.RunID,
		"invoices":     len(result.Invoices),
		"transactions": len(result.Transactions),
	}).Info("Ingested run inputs")
	return nil
}

// persist stores the engine output and completes the run
func (rs *ReconciliationService) persist(ctx context.Context, repo storage.Repository, run *storage.Run, match *matcher.Result) error {
	if err := repo.SaveCandidates(ctx, run.RunID, match.Candidates); err != nil {
		return err
	}
	if err := repo.SaveMatches(ctx, run.RunID, match.Matches, time.Now().UTC()); err != nil {
		return err
	}
	// exceptions get their ids and timestamps here
	if err := repo.SaveExceptions(ctx, run.RunID, match.Exceptions); err != nil {
		return err
	}
	if err := repo.CompleteRun(ctx, run.RunID, match.Summary); err != nil {
		return err
	}

	rs.logger.WithFields(logger.Fields{
		"run_id":     run.RunID,
		"candidates": len(match.Candidates),
		"matches":    len(match.Matches),
		"exceptions": len(match.Exceptions),
	}).Info("Persisted run results")
	return nil
}

func (rs *ReconciliationService) logAudit(audit *InputAudit) {
	entry := rs.logger.WithFields(logger.Fields{
		"invoices_without_amount":     audit.InvoicesWithoutAmount,
		"invoices_without_due_date":   audit.InvoicesWithoutDueDate,
		"transactions_without_amount": audit.TransactionsWithoutAmount,
		"transactions_without_date":   audit.TransactionsWithoutDate,
		"outbound_transactions":       audit.OutboundTransactions,
	})
	if len(audit.Warnings) == 0 {
		entry.Debug("Input audit passed")
		return
	}
	for _, w := range audit.Warnings {
		entry.Warn(w)
	}
}
