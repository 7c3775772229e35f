// Package reconciler runs the reconciliation pipeline end to end.
//
// A run registers itself in the run store, ingests the invoice and bank
// transaction files, stores the normalized entities and, unless it is
// ingest-only, executes the matching engine and persists candidates, matches
// and exceptions before recording the run summary.
//
// Example usage:
//
//	repo, _ := storage.NewSQLiteRepository(ctx, "data/recon.db", log)
//	service, _ := reconciler.NewReconciliationService(repo, reconciler.DefaultConfig(), log)
//	result, err := service.Run(ctx, &reconciler.Request{
//		InvoicesPath:     "invoices.csv",
//		TransactionsPath: "bank.csv",
//	})
package reconciler

import (
	"context"
	"fmt"
	"time"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/internal/parsers"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// ReconciliationService orchestrates ingest, matching and persistence
type ReconciliationService struct {
	repo   storage.Repository
	config *Config
	logger logger.Logger

	progress *progressReporter
}

// Config holds configuration options for the reconciliation service
type Config struct {
	// Params are the matching parameters used when a request carries none
	Params *matcher.Params

	// Parser configures CSV ingest for both files
	Parser *parsers.ParserConfig

	// AuditInputs logs data quality findings before matching
	AuditInputs bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Params:      matcher.DefaultParams(),
		Parser:      parsers.DefaultParserConfig(),
		AuditInputs: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Params == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "params", nil, nil)
	}
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.Parser == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "parser", nil, nil)
	}
	return c.Parser.Validate()
}

// Request describes one reconciliation run
type Request struct {
	InvoicesPath     string
	TransactionsPath string
	Notes            string

	// IngestOnly stores the entities and stops before matching
	IngestOnly bool

	// DryRun performs the full run against a throwaway in-memory store
	DryRun bool

	// Params overrides the service parameters for this run
	Params *matcher.Params
}

// Validate validates the reconciliation request
func (r *Request) Validate() error {
	if r.InvoicesPath == "" {
		return errors.ValidationError(errors.CodeMissingField, "invoices_path", "", nil).
			WithSuggestion("pass the invoices CSV with --invoices")
	}
	if r.TransactionsPath == "" {
		return errors.ValidationError(errors.CodeMissingField, "transactions_path", "", nil).
			WithSuggestion("pass the bank transactions CSV with --transactions")
	}
	if r.Params != nil {
		return r.Params.Validate()
	}
	return nil
}

// Result contains everything a run produced
type Result struct {
	Run              *storage.Run          `json:"run"`
	Invoices         []*models.Invoice     `json:"-"`
	Transactions     []*models.Transaction `json:"-"`
	InvoiceStats     *parsers.ParseStats   `json:"-"`
	TransactionStats *parsers.ParseStats   `json:"-"`
	Audit            *InputAudit           `json:"audit,omitempty"`

	// Match is nil for ingest-only runs
	Match *matcher.Result `json:"match,omitempty"`

	DryRun      bool          `json:"dry_run"`
	IngestOnly  bool          `json:"ingest_only"`
	ProcessedAt time.Time     `json:"processed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Summary returns the run summary. Ingest-only runs report totals with no matches.
func (r *Result) Summary() matcher.Summary {
	if r.Match == nil {
		return matcher.Summarize(r.Invoices, r.Transactions, nil)
	}
	return r.Match.Summary
}

// NewReconciliationService creates a service backed by repo. A nil config
// uses DefaultConfig.
func NewReconciliationService(repo storage.Repository, config *Config, log logger.Logger) (*ReconciliationService, error) {
	if repo == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "repository", nil, nil).
			WithSuggestion("Provide a run store, e.g. storage.NewMemoryRepository()")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &ReconciliationService{
		repo:     repo,
		config:   config,
		logger:   log.WithComponent("reconciler"),
		progress: &progressReporter{},
	}, nil
}

// AddProgressCallback registers a callback invoked as the run advances
func (rs *ReconciliationService) AddProgressCallback(callback ProgressCallback) {
	rs.progress.add(callback)
}

// Config returns the service configuration
func (rs *ReconciliationService) Config() *Config {
	return rs.config
}

// Run executes one reconciliation run
func (rs *ReconciliationService) Run(ctx context.Context, request *Request) (*Result, error) {
	if request == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	params := rs.config.Params
	if request.Params != nil {
		params = request.Params
	}
	engine, err := matcher.NewEngine(params, rs.logger)
	if err != nil {
		return nil, err
	}

	repo := rs.repo
	if request.DryRun {
		repo = storage.NewMemoryRepository()
	}

	op := logger.NewOperationLogger("reconciliation", rs.logger).
		WithField("invoices_file", request.InvoicesPath).
		WithField("transactions_file", request.TransactionsPath).
		WithField("dry_run", request.DryRun)

	start := time.Now()
	result := &Result{DryRun: request.DryRun, IngestOnly: request.IngestOnly}
	tracker := rs.progress.start(totalSteps(request))

	if err := rs.run(ctx, request, engine, repo, result, tracker, op); err != nil {
		wrapped := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "reconciliation failed")
		op.Error(wrapped, "Reconciliation failed")
		return nil, wrapped
	}

	result.ProcessedAt = time.Now().UTC()
	result.Duration = time.Since(start)
	tracker.finish()

	summary := result.Summary()
	op.WithField("run_id", result.Run.RunID).
		WithField("matched", summary.Matched).
		WithField("reconciliation_rate", fmt.Sprintf("%.4f", summary.ReconciliationRate)).
		Success("Reconciliation completed")
	return result, nil
}

func (rs *ReconciliationService) run(
	ctx context.Context,
	request *Request,
	engine *matcher.Engine,
	repo storage.Repository,
	result *Result,
	tracker *progressTracker,
	op *logger.OperationLogger,
) error {
	tracker.step(StepParsing)
	op.Step(string(StepParsing))
	if err := rs.parseInputs(ctx, request, result); err != nil {
		return err
	}
	tracker.record(len(result.Invoices), len(result.Transactions))

	if rs.config.AuditInputs {
		result.Audit = AuditInputs(result.Invoices, result.Transactions)
		result.Audit.AddParseFindings(result.InvoiceStats, result.TransactionStats)
		rs.logAudit(result.Audit)
	}

	tracker.step(StepIngest)
	op.Step(string(StepIngest))
	run := &storage.Run{
		InvoicesSource:     request.InvoicesPath,
		TransactionsSource: request.TransactionsPath,
		Notes:              request.Notes,
		Params:             engine.Params(),
	}
	if err := rs.ingest(ctx, repo, run, result); err != nil {
		return err
	}
	result.Run = run

	if request.IngestOnly {
		rs.logger.WithField("run_id", run.RunID).Info("Ingest-only run, skipping matching")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeCancelled, "reconciliation cancelled before matching")
	}

	tracker.step(StepMatching)
	op.Step(string(StepMatching))
	result.Match = engine.Run(result.Invoices, result.Transactions)
	tracker.matched(len(result.Match.Matches), result.Match.Generation)

	tracker.step(StepPersisting)
	op.Step(string(StepPersisting))
	if err := rs.persist(ctx, repo, run, result.Match); err != nil {
		return err
	}

	// reread so callers see completed_at and the stored summary
	stored, err := repo.GetRun(ctx, run.RunID)
	if err != nil {
		return err
	}
	result.Run = stored
	return nil
}

func totalSteps(request *Request) int {
	if request.IngestOnly {
		return 2
	}
	return 4
}
