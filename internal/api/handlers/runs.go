package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"reconcileflow/internal/api/dto"
	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/logger"
)

// maxRunLimit caps the limit query parameter of List
const maxRunLimit = 500

// RunsHandler serves runs and their results.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(repo storage.Repository, log logger.Logger) *RunsHandler {
	return &RunsHandler{Base: NewBase(repo, log)}
}

// List handles GET /api/runs
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", storage.DefaultRunLimit)
	if limit <= 0 {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("limit must be positive"))
		return
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}

	response := dto.RunListResponse{
		Runs:  make([]dto.RunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Latest handles GET /api/runs/latest
func (h *RunsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.repo.LatestRun(r.Context())
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

// Get handles GET /api/runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

// Matches handles GET /api/runs/{id}/matches
func (h *RunsHandler) Matches(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	matches, err := h.repo.ListMatches(r.Context(), run.RunID)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}

	response := dto.MatchListResponse{
		RunID:   run.RunID,
		Matches: make([]dto.MatchResponse, 0, len(matches)),
		Count:   len(matches),
	}
	for _, m := range matches {
		response.Matches = append(response.Matches, dto.MatchResponse{
			InvoiceID: m.InvoiceID,
			TxnID:     m.TxnID,
			Score:     m.Score,
			Evidence:  evidenceOf(m.Evidence),
			MatchedAt: formatTime(m.MatchedAt),
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Exceptions handles GET /api/runs/{id}/exceptions?kind=
func (h *RunsHandler) Exceptions(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		h.WriteError(w, http.StatusBadRequest,
			dto.BadRequestError("kind must be UNMATCHED_INVOICE or UNMATCHED_TRANSACTION"))
		return
	}
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	excs, err := h.repo.ListExceptions(r.Context(), run.RunID, kind)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}

	response := dto.ExceptionListResponse{
		RunID:      run.RunID,
		Kind:       string(kind),
		Exceptions: make([]dto.ExceptionResponse, 0, len(excs)),
		Count:      len(excs),
	}
	for _, exc := range excs {
		response.Exceptions = append(response.Exceptions, dto.ExceptionResponse{
			ExcID:      exc.ID,
			Kind:       string(exc.Kind),
			EntityType: string(exc.EntityType),
			EntityID:   exc.EntityID,
			Details:    exc.Reason,
			CreatedAt:  formatTime(exc.CreatedAt),
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Candidates handles GET /api/runs/{id}/candidates?invoice_id=
//
// It returns the candidate edges of the run, or of one invoice, with the
// accepted edge flagged.
func (h *RunsHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	invoiceID := strings.TrimSpace(r.URL.Query().Get("invoice_id"))

	edges, err := h.repo.ListCandidates(r.Context(), run.RunID, invoiceID)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}
	matches, err := h.repo.ListMatches(r.Context(), run.RunID)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return
	}
	accepted := make(map[[2]string]bool, len(matches))
	for _, m := range matches {
		accepted[[2]string{m.InvoiceID, m.TxnID}] = true
	}

	response := dto.CandidateListResponse{
		RunID:      run.RunID,
		InvoiceID:  invoiceID,
		Candidates: make([]dto.CandidateResponse, 0, len(edges)),
		Count:      len(edges),
	}
	for _, e := range edges {
		response.Candidates = append(response.Candidates, dto.CandidateResponse{
			InvoiceID: e.InvoiceID,
			TxnID:     e.TxnID,
			Score:     e.Score,
			Evidence:  evidenceOf(e.Evidence),
			Accepted:  accepted[[2]string{e.InvoiceID, e.TxnID}],
		})
	}
	h.WriteJSON(w, http.StatusOK, response)
}

func (h *RunsHandler) loadRun(w http.ResponseWriter, r *http.Request) (*storage.Run, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("run ID is required"))
		return nil, false
	}
	run, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.WriteStoreError(w, r, err)
		return nil, false
	}
	return run, true
}

func parseKind(raw string) (models.ExceptionKind, bool) {
	kind := models.ExceptionKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case "", models.UnmatchedInvoice, models.UnmatchedTransaction:
		return kind, true
	}
	return "", false
}

func toRunResponse(run *storage.Run) dto.RunResponse {
	resp := dto.RunResponse{
		RunID:              run.RunID,
		Status:             run.Status(),
		CreatedAt:          formatTime(run.CreatedAt),
		InvoicesSource:     run.InvoicesSource,
		TransactionsSource: run.TransactionsSource,
		Notes:              run.Notes,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = formatTime(*run.CompletedAt)
	}
	if p := run.Params; p != nil {
		resp.Params = &dto.ParamsResponse{
			AmountTolerance:         p.AmountTolerance,
			AmountBandCents:         p.AmountBandCents,
			DateWindowDays:          p.DateWindowDays,
			MinScoreToKeep:          p.MinScoreToKeep,
			MaxCandidatesPerInvoice: p.MaxCandidatesPerInvoice,
		}
	}
	if run.Summary != nil {
		resp.Summary = toSummaryResponse(*run.Summary)
	}
	return resp
}

func toSummaryResponse(s matcher.Summary) *dto.SummaryResponse {
	return &dto.SummaryResponse{
		Invoices:              s.Invoices,
		Transactions:          s.Transactions,
		Matched:               s.Matched,
		ReconciliationRate:    s.ReconciliationRate,
		UnmatchedInvoices:     s.UnmatchedInvoices,
		UnmatchedTransactions: s.UnmatchedTransactions,
		InvoiceTotal:          s.InvoiceTotal.StringFixed(2),
		TransactionTotal:      s.TransactionTotal.StringFixed(2),
		MatchedAmount:         s.MatchedAmount.StringFixed(2),
		CandidateEdges:        s.CandidateEdges,
	}
}

func evidenceOf(e models.Evidence) []string {
	if e == nil {
		return []string{}
	}
	return e
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
