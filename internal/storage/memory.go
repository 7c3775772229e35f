package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/pkg/errors"
)

// MemoryRepository is an in-memory implementation of Repository.
// The pipeline uses it for dry runs; tests use it with error injection.
type MemoryRepository struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
	data  map[string]*runData

	// Error injection for testing error paths
	CreateRunErr      error
	SaveEntitiesErr   error
	SaveResultsErr    error
	CompleteRunErr    error
	ListErr           error
	CompleteRunCalled bool
}

type runData struct {
	invoices     map[string]*models.Invoice
	transactions map[string]*models.Transaction
	candidates   map[[2]string]models.CandidateEdge
	matches      map[string]Match
	exceptions   map[string]models.Exception
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs: make(map[string]*Run),
		data: make(map[string]*runData),
	}
}

// Compile-time check that MemoryRepository implements Repository
var _ Repository = (*MemoryRepository)(nil)

// Close does nothing for the memory store
func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) CreateRun(ctx context.Context, run *Run) error {
	if m.CreateRunErr != nil {
		return m.CreateRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.RunID == "" {
		run.RunID = NewID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if _, exists := m.runs[run.RunID]; exists {
		return errors.StorageError(errors.CodeStorageFailure, "create run", nil).
			WithContext("run_id", run.RunID).
			WithContext("reason", "run id already exists")
	}

	copied := *run
	if run.Params != nil {
		params := run.Params.Clone()
		copied.Params = params
	}
	m.runs[run.RunID] = &copied
	m.order = append(m.order, run.RunID)
	m.data[run.RunID] = &runData{
		invoices:     make(map[string]*models.Invoice),
		transactions: make(map[string]*models.Transaction),
		candidates:   make(map[[2]string]models.CandidateEdge),
		matches:      make(map[string]Match),
		exceptions:   make(map[string]models.Exception),
	}
	return nil
}

func (m *MemoryRepository) CompleteRun(ctx context.Context, runID string, summary matcher.Summary) error {
	m.CompleteRunCalled = true
	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return errors.StorageError(errors.CodeRunNotFound, runID, nil)
	}
	now := time.Now().UTC()
	run.Summary = &summary
	run.CompletedAt = &now
	return nil
}

func (m *MemoryRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, errors.StorageError(errors.CodeRunNotFound, runID, nil)
	}
	copied := *run
	return &copied, nil
}

func (m *MemoryRepository) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := m.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.StorageError(errors.CodeRunNotFound, "latest", nil)
	}
	return runs[0], nil
}

func (m *MemoryRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// newest first; insertion order breaks ties like rowid does in SQLite
	runs := make([]*Run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		copied := *m.runs[m.order[i]]
		runs = append(runs, &copied)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryRepository) SaveInvoices(ctx context.Context, runID string, invoices []*models.Invoice) error {
	if m.SaveEntitiesErr != nil {
		return m.SaveEntitiesErr
	}
	return m.update(runID, "save invoices", func(d *runData) {
		for _, inv := range invoices {
			copied := *inv
			d.invoices[inv.InvoiceID] = &copied
		}
	})
}

func (m *MemoryRepository) SaveTransactions(ctx context.Context, runID string, transactions []*models.Transaction) error {
	if m.SaveEntitiesErr != nil {
		return m.SaveEntitiesErr
	}
	return m.update(runID, "save transactions", func(d *runData) {
		for _, txn := range transactions {
			copied := *txn
			d.transactions[txn.TxnID] = &copied
		}
	})
}

func (m *MemoryRepository) ListInvoices(ctx context.Context, runID string) ([]*models.Invoice, error) {
	invoices := make([]*models.Invoice, 0)
	err := m.view(runID, func(d *runData) {
		for _, inv := range d.invoices {
			copied := *inv
			invoices = append(invoices, &copied)
		}
	})
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].InvoiceID < invoices[j].InvoiceID })
	return invoices, err
}

func (m *MemoryRepository) ListTransactions(ctx context.Context, runID string) ([]*models.Transaction, error) {
	txns := make([]*models.Transaction, 0)
	err := m.view(runID, func(d *runData) {
		for _, txn := range d.transactions {
			copied := *txn
			txns = append(txns, &copied)
		}
	})
	sort.Slice(txns, func(i, j int) bool { return txns[i].TxnID < txns[j].TxnID })
	return txns, err
}

func (m *MemoryRepository) SaveCandidates(ctx context.Context, runID string, edges []models.CandidateEdge) error {
	if m.SaveResultsErr != nil {
		return m.SaveResultsErr
	}
	return m.update(runID, "save candidates", func(d *runData) {
		for _, e := range edges {
			d.candidates[[2]string{e.InvoiceID, e.TxnID}] = e
		}
	})
}

func (m *MemoryRepository) SaveMatches(ctx context.Context, runID string, matches []models.CandidateEdge, matchedAt time.Time) error {
	if m.SaveResultsErr != nil {
		return m.SaveResultsErr
	}
	return m.update(runID, "save matches", func(d *runData) {
		for _, e := range matches {
			// a transaction settles at most one invoice per run
			for inv, existing := range d.matches {
				if existing.TxnID == e.TxnID {
					delete(d.matches, inv)
				}
			}
			d.matches[e.InvoiceID] = Match{CandidateEdge: e, MatchedAt: matchedAt.UTC()}
		}
	})
}

func (m *MemoryRepository) SaveExceptions(ctx context.Context, runID string, exceptions []models.Exception) error {
	if m.SaveResultsErr != nil {
		return m.SaveResultsErr
	}
	now := time.Now().UTC()
	return m.update(runID, "save exceptions", func(d *runData) {
		for i := range exceptions {
			stampException(&exceptions[i], now)
			d.exceptions[exceptions[i].ID] = exceptions[i]
		}
	})
}

func (m *MemoryRepository) ListCandidates(ctx context.Context, runID, invoiceID string) ([]models.CandidateEdge, error) {
	edges := make([]models.CandidateEdge, 0)
	err := m.view(runID, func(d *runData) {
		for _, e := range d.candidates {
			if invoiceID == "" || e.InvoiceID == invoiceID {
				edges = append(edges, e)
			}
		}
	})
	sort.Slice(edges, func(i, j int) bool { return edgeLess(edges[i], edges[j]) })
	return edges, err
}

func (m *MemoryRepository) ListMatches(ctx context.Context, runID string) ([]Match, error) {
	matches := make([]Match, 0)
	err := m.view(runID, func(d *runData) {
		for _, match := range d.matches {
			matches = append(matches, match)
		}
	})
	sort.Slice(matches, func(i, j int) bool { return edgeLess(matches[i].CandidateEdge, matches[j].CandidateEdge) })
	return matches, err
}

func (m *MemoryRepository) ListExceptions(ctx context.Context, runID string, kind models.ExceptionKind) ([]models.Exception, error) {
	exceptions := make([]models.Exception, 0)
	err := m.view(runID, func(d *runData) {
		for _, exc := range d.exceptions {
			if kind == "" || exc.Kind == kind {
				exceptions = append(exceptions, exc)
			}
		}
	})
	sort.Slice(exceptions, func(i, j int) bool {
		if exceptions[i].Kind != exceptions[j].Kind {
			return exceptions[i].Kind < exceptions[j].Kind
		}
		return exceptions[i].EntityID < exceptions[j].EntityID
	})
	return exceptions, err
}

func (m *MemoryRepository) update(runID, operation string, fn func(d *runData)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data[runID]
	if !ok {
		return errors.StorageError(errors.CodeStorageFailure, operation, nil).
			WithContext("run_id", runID).
			WithContext("reason", "unknown run")
	}
	fn(d)
	return nil
}

func (m *MemoryRepository) view(runID string, fn func(d *runData)) error {
	if m.ListErr != nil {
		return m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.data[runID]; ok {
		fn(d)
	}
	return nil
}

// edgeLess orders by score desc, then invoice id and txn id, matching the
// ORDER BY used by the SQLite store.
func edgeLess(a, b models.CandidateEdge) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.InvoiceID != b.InvoiceID {
		return a.InvoiceID < b.InvoiceID
	}
	return a.TxnID < b.TxnID
}
