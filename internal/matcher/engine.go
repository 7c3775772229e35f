package matcher

import (
	"time"

	"github.com/shopspring/decimal"

	"reconcileflow/internal/models"
	"reconcileflow/internal/similarity"
	"reconcileflow/pkg/logger"
)

// Engine runs candidate generation, solving and exception derivation over one
// working set. It keeps no state between runs.
type Engine struct {
	params    *Params
	generator *Generator
	solver    Solver
	log       logger.Logger
}

// Result is the outcome of one engine run
type Result struct {
	Candidates []models.CandidateEdge `json:"candidates"`
	Matches    []models.CandidateEdge `json:"matches"`
	Exceptions []models.Exception     `json:"exceptions"`
	Summary    Summary                `json:"summary"`
	Duration   time.Duration          `json:"duration_ns"`

	// Generation reports throughput of the per-invoice candidate pass
	Generation logger.ProgressStats `json:"generation"`
}

// Summary holds the headline figures of a run. Absent amounts count as zero.
type Summary struct {
	Invoices              int             `json:"invoices"`
	Transactions          int             `json:"transactions"`
	Matched               int             `json:"matched"`
	ReconciliationRate    float64         `json:"reconciliation_rate"`
	UnmatchedInvoices     int             `json:"unmatched_invoices"`
	UnmatchedTransactions int             `json:"unmatched_transactions"`
	InvoiceTotal          decimal.Decimal `json:"invoice_total"`
	TransactionTotal      decimal.Decimal `json:"transaction_total"`
	MatchedAmount         decimal.Decimal `json:"matched_amount"`
	CandidateEdges        int             `json:"candidate_edges"`
}

// Option customizes an Engine
type Option func(*engineOptions)

type engineOptions struct {
	sim    similarity.Provider
	solver Solver
}

// WithSimilarity replaces the text similarity provider used for scoring
func WithSimilarity(sim similarity.Provider) Option {
	return func(o *engineOptions) { o.sim = sim }
}

// WithSolver replaces the matching solver
func WithSolver(s Solver) Option {
	return func(o *engineOptions) { o.solver = s }
}

// NewEngine validates params and builds an engine. A nil params uses
// DefaultParams and a nil logger uses the global logger.
func NewEngine(params *Params, log logger.Logger, opts ...Option) (*Engine, error) {
	if params == nil {
		params = DefaultParams()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.solver == nil {
		o.solver = NewAssignmentSolver()
	}

	gen, err := NewGenerator(params, NewScorer(o.sim), log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		params:    params.Clone(),
		generator: gen,
		solver:    o.solver,
		log:       log.WithComponent("matcher"),
	}, nil
}

// Params returns a copy of the engine parameters
func (e *Engine) Params() *Params {
	return e.params.Clone()
}

// Run reconciles invoices against transactions. It never fails on
// well-formed input; records it cannot use end up as exceptions.
func (e *Engine) Run(invoices []*models.Invoice, transactions []*models.Transaction) *Result {
	start := time.Now()

	candidates, generation := e.generator.generate(invoices, transactions)
	matches := e.solver.Solve(candidates)
	exceptions := DeriveExceptions(InvoiceIDs(invoices), TransactionIDs(transactions), matches)

	result := &Result{
		Candidates: candidates,
		Matches:    matches,
		Exceptions: exceptions,
		Summary:    Summarize(invoices, transactions, matches),
		Duration:   time.Since(start),
		Generation: generation,
	}
	result.Summary.CandidateEdges = len(candidates)

	e.log.WithFields(logger.Fields{
		"candidates":  len(candidates),
		"matches":     len(matches),
		"exceptions":  len(exceptions),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Matching completed")

	return result
}

// Summarize computes the summary figures for a set of accepted matches
func Summarize(invoices []*models.Invoice, transactions []*models.Transaction, matches []models.CandidateEdge) Summary {
	s := Summary{
		Invoices:         len(invoices),
		Transactions:     len(transactions),
		Matched:          len(matches),
		InvoiceTotal:     decimal.Zero,
		TransactionTotal: decimal.Zero,
		MatchedAmount:    decimal.Zero,
	}

	if s.Invoices > 0 {
		s.ReconciliationRate = float64(s.Matched) / float64(s.Invoices)
	}
	s.UnmatchedInvoices = max(s.Invoices-s.Matched, 0)
	s.UnmatchedTransactions = max(s.Transactions-s.Matched, 0)

	amounts := make(map[string]decimal.Decimal, len(invoices))
	for _, inv := range invoices {
		if !inv.Amount.Valid {
			continue
		}
		s.InvoiceTotal = s.InvoiceTotal.Add(inv.Amount.Decimal)
		amounts[inv.InvoiceID] = inv.Amount.Decimal
	}
	for _, txn := range transactions {
		if txn.Amount.Valid {
			s.TransactionTotal = s.TransactionTotal.Add(txn.Amount.Decimal)
		}
	}
	for _, m := range matches {
		if amt, ok := amounts[m.InvoiceID]; ok {
			s.MatchedAmount = s.MatchedAmount.Add(amt)
		}
	}

	return s
}
