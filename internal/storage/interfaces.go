// Package storage persists reconciliation runs: the ingested invoices and
// transactions, the candidate edges, the accepted matches and the derived
// exceptions, all keyed by run id.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
)

// Repository defines the complete run store.
// SQLiteRepository is the durable implementation; MemoryRepository keeps
// everything in process and backs dry runs and tests.
type Repository interface {
	RunRepository
	EntityRepository
	ResultRepository
	Close() error
}

// RunRepository handles run registration and lookup
type RunRepository interface {
	// CreateRun registers a run. An empty RunID is replaced by a new id.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun stores the summary of a finished run
	CompleteRun(ctx context.Context, runID string, summary matcher.Summary) error

	// GetRun returns a run or a run_not_found error
	GetRun(ctx context.Context, runID string) (*Run, error)

	// LatestRun returns the most recently created run
	LatestRun(ctx context.Context) (*Run, error)

	// ListRuns returns runs newest first. A non-positive limit uses DefaultRunLimit.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// EntityRepository stores the normalized inputs of a run
type EntityRepository interface {
	SaveInvoices(ctx context.Context, runID string, invoices []*models.Invoice) error
	SaveTransactions(ctx context.Context, runID string, transactions []*models.Transaction) error
	ListInvoices(ctx context.Context, runID string) ([]*models.Invoice, error)
	ListTransactions(ctx context.Context, runID string) ([]*models.Transaction, error)
}

// ResultRepository stores what the engine produced for a run
type ResultRepository interface {
	SaveCandidates(ctx context.Context, runID string, edges []models.CandidateEdge) error

	// SaveMatches stores accepted matches stamped with matchedAt
	SaveMatches(ctx context.Context, runID string, matches []models.CandidateEdge, matchedAt time.Time) error

	// SaveExceptions stores exceptions. Missing ids and timestamps are filled in
	// on the given slice.
	SaveExceptions(ctx context.Context, runID string, exceptions []models.Exception) error

	// ListCandidates returns candidate edges by descending score. A non-empty
	// invoiceID restricts the result to that invoice.
	ListCandidates(ctx context.Context, runID, invoiceID string) ([]models.CandidateEdge, error)

	// ListMatches returns matches by descending score
	ListMatches(ctx context.Context, runID string) ([]Match, error)

	// ListExceptions returns exceptions ordered by kind then entity id. An
	// empty kind returns all of them.
	ListExceptions(ctx context.Context, runID string, kind models.ExceptionKind) ([]models.Exception, error)
}

// DefaultRunLimit is used when ListRuns is called without a limit
const DefaultRunLimit = 20

// Run is one reconciliation run
type Run struct {
	RunID              string           `json:"run_id"`
	CreatedAt          time.Time        `json:"created_at"`
	InvoicesSource     string           `json:"invoices_source"`
	TransactionsSource string           `json:"transactions_source"`
	Notes              string           `json:"notes,omitempty"`
	Params             *matcher.Params  `json:"params,omitempty"`
	Summary            *matcher.Summary `json:"summary,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}

// Status reports whether the run has been matched or only ingested
func (r *Run) Status() string {
	if r.CompletedAt != nil {
		return "completed"
	}
	return "ingested"
}

// Match is an accepted candidate edge with the time it was recorded
type Match struct {
	models.CandidateEdge
	MatchedAt time.Time `json:"matched_at"`
}

// NewID returns a fresh 12 character identifier for runs and exceptions
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
