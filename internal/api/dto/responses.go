// Package dto holds the JSON shapes served by the read API.
package dto

import "time"

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a health response with current timestamp.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SummaryResponse carries the KPIs of a run. Amounts are decimal strings.
type SummaryResponse struct {
	Invoices              int     `json:"invoices"`
	Transactions          int     `json:"transactions"`
	Matched               int     `json:"matched"`
	ReconciliationRate    float64 `json:"reconciliation_rate"`
	UnmatchedInvoices     int     `json:"unmatched_invoices"`
	UnmatchedTransactions int     `json:"unmatched_transactions"`
	InvoiceTotal          string  `json:"invoice_total"`
	TransactionTotal      string  `json:"transaction_total"`
	MatchedAmount         string  `json:"matched_amount"`
	CandidateEdges        int     `json:"candidate_edges"`
}

// ParamsResponse echoes the matching parameters a run used.
type ParamsResponse struct {
	AmountTolerance         float64 `json:"amount_tolerance"`
	AmountBandCents         int64   `json:"amount_band_cents"`
	DateWindowDays          int     `json:"date_window_days"`
	MinScoreToKeep          float64 `json:"min_score_to_keep"`
	MaxCandidatesPerInvoice int     `json:"max_candidates_per_invoice"`
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	RunID              string           `json:"run_id"`
	Status             string           `json:"status"`
	CreatedAt          string           `json:"created_at"`
	CompletedAt        string           `json:"completed_at,omitempty"`
	InvoicesSource     string           `json:"invoices_source"`
	TransactionsSource string           `json:"transactions_source"`
	Notes              string           `json:"notes,omitempty"`
	Params             *ParamsResponse  `json:"params,omitempty"`
	Summary            *SummaryResponse `json:"summary,omitempty"`
}

// RunListResponse is returned when listing runs.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

// MatchResponse is one accepted invoice to transaction pairing.
type MatchResponse struct {
	InvoiceID string   `json:"invoice_id"`
	TxnID     string   `json:"txn_id"`
	Score     float64  `json:"score"`
	Evidence  []string `json:"evidence"`
	MatchedAt string   `json:"matched_at"`
}

// MatchListResponse is returned when listing the matches of a run.
type MatchListResponse struct {
	RunID   string          `json:"run_id"`
	Matches []MatchResponse `json:"matches"`
	Count   int             `json:"count"`
}

// ExceptionResponse is one unmatched invoice or transaction.
type ExceptionResponse struct {
	ExcID      string `json:"exc_id"`
	Kind       string `json:"kind"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

// ExceptionListResponse is returned when listing the exceptions of a run.
type ExceptionListResponse struct {
	RunID      string              `json:"run_id"`
	Kind       string              `json:"kind,omitempty"`
	Exceptions []ExceptionResponse `json:"exceptions"`
	Count      int                 `json:"count"`
}

// CandidateResponse is a candidate edge. Accepted marks the edge the
// matcher chose.
type CandidateResponse struct {
	InvoiceID string   `json:"invoice_id"`
	TxnID     string   `json:"txn_id"`
	Score     float64  `json:"score"`
	Evidence  []string `json:"evidence"`
	Accepted  bool     `json:"accepted"`
}

// CandidateListResponse is returned when exploring the candidate graph.
type CandidateListResponse struct {
	RunID      string              `json:"run_id"`
	InvoiceID  string              `json:"invoice_id,omitempty"`
	Candidates []CandidateResponse `json:"candidates"`
	Count      int                 `json:"count"`
}
