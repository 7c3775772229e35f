package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

const invoicesCSV = `invoice_id,invoice_number,issue_date,due_date,counterparty,amount,currency,reference,status
INV-1,1001,2024-01-01,2024-01-10,Acme Ltd,100.00,USD,INV 1001,open
INV-2,1002,2024-01-02,2024-01-12,Globex Corp,250.50,USD,INV 1002,open
INV-3,1003,2024-01-03,2024-01-15,Initech,75.00,USD,INV 1003,open
`

const transactionsCSV = `txn_id,txn_date,counterparty,amount,currency,direction,reference,description
T-1,2024-01-10,ACME LTD,100.00,USD,IN,1001,payment
T-2,2024-01-13,Globex Corporation,250.50,USD,CREDIT,INV-1002,wire
T-3,2024-01-05,Supplier,40.00,USD,OUT,,fees
T-4,2024-02-20,Unknown,999.00,USD,IN,,
`

func createTestDataFiles(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	invoices := filepath.Join(dir, "invoices.csv")
	if err := os.WriteFile(invoices, []byte(invoicesCSV), 0o644); err != nil {
		t.Fatalf("Failed to write invoices file: %v", err)
	}
	transactions := filepath.Join(dir, "transactions.csv")
	if err := os.WriteFile(transactions, []byte(transactionsCSV), 0o644); err != nil {
		t.Fatalf("Failed to write transactions file: %v", err)
	}
	return invoices, transactions
}

func newTestService(t *testing.T, repo storage.Repository) *ReconciliationService {
	t.Helper()
	service, err := NewReconciliationService(repo, nil, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewReconciliationService() error = %v", err)
	}
	return service
}

func TestNewReconciliationService(t *testing.T) {
	if _, err := NewReconciliationService(nil, nil, nil); !errors.IsCode(err, errors.CodeMissingField) {
		t.Errorf("nil repository: error = %v, want missing_field", err)
	}

	bad := DefaultConfig()
	bad.Params.MaxCandidatesPerInvoice = 0
	if _, err := NewReconciliationService(storage.NewMemoryRepository(), bad, nil); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("invalid params: error = %v, want invalid_config", err)
	}

	noParser := DefaultConfig()
	noParser.Parser = nil
	if _, err := NewReconciliationService(storage.NewMemoryRepository(), noParser, nil); !errors.IsCode(err, errors.CodeMissingConfig) {
		t.Errorf("missing parser config: error = %v, want missing_config", err)
	}
}

func TestRequestValidate(t *testing.T) {
	negative := matcher.DefaultParams()
	negative.DateWindowDays = -1

	tests := []struct {
		name    string
		request Request
		code    errors.ErrorCode
	}{
		{"missing invoices", Request{TransactionsPath: "t.csv"}, errors.CodeMissingField},
		{"missing transactions", Request{InvoicesPath: "i.csv"}, errors.CodeMissingField},
		{"invalid params", Request{InvoicesPath: "i.csv", TransactionsPath: "t.csv", Params: negative}, errors.CodeInvalidConfig},
		{"valid", Request{InvoicesPath: "i.csv", TransactionsPath: "t.csv"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.code == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestReconciliationService_Run(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	repo := storage.NewMemoryRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	result, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: transactions, Notes: "january"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Run == nil || result.Run.Status() != "completed" {
		t.Fatalf("Run status = %v, want completed", result.Run)
	}
	if result.Run.Notes != "january" {
		t.Errorf("Notes = %q", result.Run.Notes)
	}
	if len(result.Invoices) != 3 || len(result.Transactions) != 4 {
		t.Errorf("parsed %d invoices and %d transactions, want 3 and 4", len(result.Invoices), len(result.Transactions))
	}

	got := map[string]string{}
	for _, m := range result.Match.Matches {
		got[m.InvoiceID] = m.TxnID
	}
	if len(got) != 2 || got["INV-1"] != "T-1" || got["INV-2"] != "T-2" {
		t.Errorf("matches = %v, want INV-1->T-1 and INV-2->T-2", got)
	}

	if len(result.Match.Exceptions) != 3 {
		t.Fatalf("exceptions = %d, want 3", len(result.Match.Exceptions))
	}
	for _, exc := range result.Match.Exceptions {
		if exc.ID == "" || exc.CreatedAt.IsZero() {
			t.Errorf("exception %s was not stamped", exc.EntityID)
		}
	}

	summary := result.Summary()
	if summary.Matched != 2 || summary.UnmatchedInvoices != 1 || summary.UnmatchedTransactions != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.MatchedAmount.StringFixed(2) != "350.50" {
		t.Errorf("MatchedAmount = %s, want 350.50", summary.MatchedAmount.StringFixed(2))
	}

	// the stored view agrees with the returned one
	stored, err := repo.ListMatches(ctx, result.Run.RunID)
	if err != nil || len(stored) != 2 {
		t.Errorf("ListMatches() = %d, %v", len(stored), err)
	}
	unmatched, err := repo.ListExceptions(ctx, result.Run.RunID, models.UnmatchedTransaction)
	if err != nil || len(unmatched) != 2 {
		t.Errorf("ListExceptions(UNMATCHED_TRANSACTION) = %d, %v", len(unmatched), err)
	}
	if result.Run.Summary == nil || result.Run.Summary.Matched != 2 {
		t.Errorf("stored summary = %+v", result.Run.Summary)
	}
	if result.Audit == nil || result.Audit.OutboundTransactions != 1 {
		t.Errorf("audit = %+v", result.Audit)
	}
}

func TestReconciliationService_DryRun(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	repo := storage.NewMemoryRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	result, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: transactions, DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.DryRun || len(result.Match.Matches) != 2 {
		t.Errorf("dry run result = %+v", result)
	}

	runs, err := repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run stored %d runs", len(runs))
	}
}

func TestReconciliationService_IngestOnly(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	repo := storage.NewMemoryRepository()
	service := newTestService(t, repo)
	ctx := context.Background()

	result, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: transactions, IngestOnly: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Match != nil {
		t.Error("ingest-only run should not match")
	}
	if result.Run.Status() != "ingested" {
		t.Errorf("status = %s, want ingested", result.Run.Status())
	}
	if repo.CompleteRunCalled {
		t.Error("ingest-only run should not complete the run")
	}

	stored, err := repo.ListInvoices(ctx, result.Run.RunID)
	if err != nil || len(stored) != 3 {
		t.Errorf("ListInvoices() = %d, %v", len(stored), err)
	}
	if s := result.Summary(); s.Invoices != 3 || s.Transactions != 4 || s.Matched != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestReconciliationService_RequestParams(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	service := newTestService(t, storage.NewMemoryRepository())

	strict := matcher.DefaultParams()
	strict.MinScoreToKeep = 110

	result, err := service.Run(context.Background(), &Request{InvoicesPath: invoices, TransactionsPath: transactions, Params: strict})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// only the exact Acme pair clears 110
	if len(result.Match.Matches) != 1 || result.Match.Matches[0].InvoiceID != "INV-1" {
		t.Errorf("matches = %v", result.Match.Matches)
	}
	if result.Run.Params == nil || result.Run.Params.MinScoreToKeep != 110 {
		t.Errorf("stored params = %+v", result.Run.Params)
	}
}

func TestReconciliationService_Errors(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		repo := storage.NewMemoryRepository()
		service := newTestService(t, repo)
		_, err := service.Run(ctx, &Request{InvoicesPath: filepath.Join(t.TempDir(), "none.csv"), TransactionsPath: transactions})
		if !errors.IsCode(err, errors.CodeFileNotFound) {
			t.Errorf("error = %v, want file_not_found", err)
		}
		if runs, _ := repo.ListRuns(ctx, 0); len(runs) != 0 {
			t.Errorf("failed ingest registered %d runs", len(runs))
		}
	})

	t.Run("missing transactions file", func(t *testing.T) {
		service := newTestService(t, storage.NewMemoryRepository())
		_, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: filepath.Join(t.TempDir(), "none.csv")})
		if !errors.IsCode(err, errors.CodeFileNotFound) {
			t.Errorf("error = %v, want file_not_found", err)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		repo := storage.NewMemoryRepository()
		repo.SaveResultsErr = errors.StorageError(errors.CodeStorageFailure, "save candidates", nil)
		service := newTestService(t, repo)
		_, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: transactions})
		if !errors.IsCode(err, errors.CodeStorageFailure) {
			t.Errorf("error = %v, want storage_failure", err)
		}
		if repo.CompleteRunCalled {
			t.Error("run completed despite failed persistence")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		service := newTestService(t, storage.NewMemoryRepository())
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := service.Run(cancelled, &Request{InvoicesPath: invoices, TransactionsPath: transactions})
		if err == nil {
			t.Fatal("expected an error for a cancelled context")
		}
		if _, ok := errors.AsReconcilerError(err); !ok {
			t.Errorf("expected a ReconcilerError, got %T: %v", err, err)
		}
	})

	t.Run("nil request", func(t *testing.T) {
		service := newTestService(t, storage.NewMemoryRepository())
		if _, err := service.Run(ctx, nil); !errors.IsCode(err, errors.CodeMissingField) {
			t.Errorf("error = %v, want missing_field", err)
		}
	})
}

func TestReconciliationService_Progress(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	service := newTestService(t, storage.NewMemoryRepository())

	var steps []Step
	var last ReconciliationProgress
	service.AddProgressCallback(func(p ReconciliationProgress) {
		steps = append(steps, p.CurrentStep)
		last = p
	})

	if _, err := service.Run(context.Background(), &Request{InvoicesPath: invoices, TransactionsPath: transactions}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Step{StepParsing, StepIngest, StepMatching, StepPersisting, StepCompleted}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, steps[i], want[i])
		}
	}
	if last.PercentComplete != 100 || last.MatchesFound != 2 || last.Invoices != 3 {
		t.Errorf("final progress = %+v", last)
	}
	if last.Generation == nil || last.Generation.Current != 3 || last.Generation.Total != 3 {
		t.Errorf("generation stats = %+v, want 3 of 3 invoices", last.Generation)
	}
}

func TestReconciliationService_SQLite(t *testing.T) {
	invoices, transactions := createTestDataFiles(t)
	ctx := context.Background()

	repo, err := storage.NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "recon.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	defer repo.Close()

	service := newTestService(t, repo)
	result, err := service.Run(ctx, &Request{InvoicesPath: invoices, TransactionsPath: transactions})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	latest, err := repo.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.RunID != result.Run.RunID || latest.Summary == nil || latest.Summary.Matched != 2 {
		t.Errorf("latest run = %+v", latest)
	}

	candidates, err := repo.ListCandidates(ctx, latest.RunID, "INV-1")
	if err != nil || len(candidates) == 0 {
		t.Errorf("ListCandidates() = %v, %v", candidates, err)
	}
}
