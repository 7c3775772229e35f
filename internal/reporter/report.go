package reporter

import (
	"context"
	"time"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/internal/reconciler"
	"reconcileflow/internal/storage"
)

// LatestRun selects the most recent run in Load
const LatestRun = "latest"

// Report is the format-independent view of one run
type Report struct {
	Run         *storage.Run           `json:"run"`
	Summary     matcher.Summary        `json:"summary"`
	Matches     []storage.Match        `json:"matches"`
	Exceptions  []models.Exception     `json:"exceptions"`
	Audit       *reconciler.InputAudit `json:"audit,omitempty"`
	DryRun      bool                   `json:"dry_run,omitempty"`
	IngestOnly  bool                   `json:"ingest_only,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// FromResult builds a report from a run that just finished
func FromResult(result *reconciler.Result) *Report {
	report := &Report{
		Run:         result.Run,
		Summary:     result.Summary(),
		Matches:     []storage.Match{},
		Exceptions:  []models.Exception{},
		Audit:       result.Audit,
		DryRun:      result.DryRun,
		IngestOnly:  result.IngestOnly,
		GeneratedAt: time.Now().UTC(),
	}
	if result.Match != nil {
		for _, m := range result.Match.Matches {
			report.Matches = append(report.Matches, storage.Match{CandidateEdge: m, MatchedAt: result.ProcessedAt})
		}
		report.Exceptions = result.Match.Exceptions
	}
	return report
}

// Load builds a report for a stored run. runID may be LatestRun or empty for
// the most recent run.
func Load(ctx context.Context, repo storage.Repository, runID string) (*Report, error) {
	var (
		run *storage.Run
		err error
	)
	if runID == "" || runID == LatestRun {
		run, err = repo.LatestRun(ctx)
	} else {
		run, err = repo.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, err
	}

	matches, err := repo.ListMatches(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	exceptions, err := repo.ListExceptions(ctx, run.RunID, "")
	if err != nil {
		return nil, err
	}

	report := &Report{
		Run:         run,
		Matches:     matches,
		Exceptions:  exceptions,
		IngestOnly:  run.CompletedAt == nil,
		GeneratedAt: time.Now().UTC(),
	}
	if run.Summary != nil {
		report.Summary = *run.Summary
	} else {
		invoices, err := repo.ListInvoices(ctx, run.RunID)
		if err != nil {
			return nil, err
		}
		txns, err := repo.ListTransactions(ctx, run.RunID)
		if err != nil {
			return nil, err
		}
		report.Summary = matcher.Summarize(invoices, txns, nil)
	}
	return report, nil
}

// exceptionsOf returns the exceptions of one kind, keeping their order
func (r *Report) exceptionsOf(kind models.ExceptionKind) []models.Exception {
	out := make([]models.Exception, 0)
	for _, exc := range r.Exceptions {
		if exc.Kind == kind {
			out = append(out, exc)
		}
	}
	return out
}
