package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"reconcileflow/internal/matcher"
	"reconcileflow/internal/models"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// MemoryDSN opens a private in-memory database
const MemoryDSN = ":memory:"

const timestampLayout = time.RFC3339Nano

// SQLiteRepository stores runs in a SQLite database.
// It implements the Repository interface.
type SQLiteRepository struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// Compile-time check that SQLiteRepository implements Repository
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) the database at path and
// brings its schema up to date.
func NewSQLiteRepository(ctx context.Context, path string, log logger.Logger) (*SQLiteRepository, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("storage")

	if path != MemoryDSN {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.StorageError(errors.CodeStorageFailure, "create database directory", err).
					WithContext("path", path)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "open database", err).WithContext("path", path)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.StorageError(errors.CodeStorageFailure, "configure database", err).
				WithContext("pragma", pragma)
		}
	}

	if err := migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.WithField("path", path).Debug("Opened run store")
	return &SQLiteRepository{db: db, path: path, logger: log}, nil
}

// Close closes the database connection
func (s *SQLiteRepository) Close() error {
	return s.db.Close()
}

// Path returns the database location
func (s *SQLiteRepository) Path() string {
	return s.path
}

func (s *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = NewID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := nullJSON(run.Params)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "encode run params", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO runs (run_id, created_at, invoices_source, transactions_source, notes, params_json)
	VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, formatTimestamp(run.CreatedAt), run.InvoicesSource, run.TransactionsSource, run.Notes, paramsJSON)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "create run", err).WithContext("run_id", run.RunID)
	}
	return nil
}

func (s *SQLiteRepository) CompleteRun(ctx context.Context, runID string, summary matcher.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "encode run summary", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE runs SET summary_json = ?, completed_at = ? WHERE run_id = ?`,
		string(summaryJSON), formatTimestamp(time.Now().UTC()), runID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "complete run", err).WithContext("run_id", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.StorageError(errors.CodeRunNotFound, runID, nil)
	}
	return nil
}

const runColumns = `run_id, created_at, invoices_source, transactions_source, notes, params_json, summary_json, completed_at`

func (s *SQLiteRepository) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeRunNotFound, runID, nil)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "get run", err).WithContext("run_id", runID)
	}
	return run, nil
}

func (s *SQLiteRepository) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.StorageError(errors.CodeRunNotFound, "latest", nil)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "get latest run", err)
	}
	return run, nil
}

func (s *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list runs", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list runs", err)
	}
	return runs, nil
}

func (s *SQLiteRepository) SaveInvoices(ctx context.Context, runID string, invoices []*models.Invoice) error {
	return s.withTx(ctx, "save invoices", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO invoices
		(run_id, invoice_id, invoice_number, issue_date, due_date, counterparty, amount, currency,
		 reference, status, counterparty_norm, reference_norm, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, inv := range invoices {
			raw, err := nullJSON(inv.Raw)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				runID, inv.InvoiceID, inv.InvoiceNumber, nullDate(inv.IssueDate), nullDate(inv.DueDate),
				inv.Counterparty, nullAmount(inv.Amount), inv.Currency, inv.Reference, inv.Status,
				inv.CounterpartyNorm, inv.ReferenceNorm, raw,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteRepository) SaveTransactions(ctx context.Context, runID string, transactions []*models.Transaction) error {
	return s.withTx(ctx, "save transactions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO transactions
		(run_id, txn_id, txn_date, counterparty, amount, currency, direction, reference,
		 description, counterparty_norm, reference_norm, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, txn := range transactions {
			raw, err := nullJSON(txn.Raw)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				runID, txn.TxnID, nullDate(txn.TxnDate), txn.Counterparty, nullAmount(txn.Amount),
				txn.Currency, string(txn.Direction), txn.Reference, txn.Description,
				txn.CounterpartyNorm, txn.ReferenceNorm, raw,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteRepository) ListInvoices(ctx context.Context, runID string) ([]*models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT invoice_id, invoice_number, issue_date, due_date, counterparty, amount, currency,
	       reference, status, counterparty_norm, reference_norm, raw_json
	FROM invoices WHERE run_id = ? ORDER BY invoice_id`, runID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list invoices", err)
	}
	defer rows.Close()

	invoices := make([]*models.Invoice, 0)
	for rows.Next() {
		var (
			inv                               models.Invoice
			number, cp, currency, ref, status sql.NullString
			cpNorm, refNorm                   sql.NullString
			issue, due, amount, raw           sql.NullString
		)
		if err := rows.Scan(&inv.InvoiceID, &number, &issue, &due, &cp, &amount, &currency,
			&ref, &status, &cpNorm, &refNorm, &raw); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan invoice", err)
		}
		inv.InvoiceNumber = number.String
		inv.IssueDate = parseDate(issue)
		inv.DueDate = parseDate(due)
		inv.Counterparty = cp.String
		inv.Amount = parseAmount(amount)
		inv.Currency = currency.String
		inv.Reference = ref.String
		inv.Status = status.String
		inv.CounterpartyNorm = cpNorm.String
		inv.ReferenceNorm = refNorm.String
		inv.Raw = parseRaw(raw)
		invoices = append(invoices, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list invoices", err)
	}
	return invoices, nil
}

func (s *SQLiteRepository) ListTransactions(ctx context.Context, runID string) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT txn_id, txn_date, counterparty, amount, currency, direction, reference, description,
	       counterparty_norm, reference_norm, raw_json
	FROM transactions WHERE run_id = ? ORDER BY txn_id`, runID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list transactions", err)
	}
	defer rows.Close()

	txns := make([]*models.Transaction, 0)
	for rows.Next() {
		var (
			txn                                   models.Transaction
			cp, currency, direction, ref, descr   sql.NullString
			cpNorm, refNorm, date, amount, rawCol sql.NullString
		)
		if err := rows.Scan(&txn.TxnID, &date, &cp, &amount, &currency, &direction, &ref, &descr,
			&cpNorm, &refNorm, &rawCol); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan transaction", err)
		}
		txn.TxnDate = parseDate(date)
		txn.Counterparty = cp.String
		txn.Amount = parseAmount(amount)
		txn.Currency = currency.String
		txn.Direction = models.ParseDirection(direction.String)
		txn.Reference = ref.String
		txn.Description = descr.String
		txn.CounterpartyNorm = cpNorm.String
		txn.ReferenceNorm = refNorm.String
		txn.Raw = parseRaw(rawCol)
		txns = append(txns, &txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list transactions", err)
	}
	return txns, nil
}

func (s *SQLiteRepository) SaveCandidates(ctx context.Context, runID string, edges []models.CandidateEdge) error {
	return s.withTx(ctx, "save candidates", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO match_candidates (run_id, invoice_id, txn_id, score, reasons)
		VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, runID, e.InvoiceID, e.TxnID, e.Score, e.Evidence.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteRepository) SaveMatches(ctx context.Context, runID string, matches []models.CandidateEdge, matchedAt time.Time) error {
	return s.withTx(ctx, "save matches", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO matches (run_id, invoice_id, txn_id, score, reasons, matched_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		stamp := formatTimestamp(matchedAt)
		for _, m := range matches {
			if _, err := stmt.ExecContext(ctx, runID, m.InvoiceID, m.TxnID, m.Score, m.Evidence.String(), stamp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteRepository) SaveExceptions(ctx context.Context, runID string, exceptions []models.Exception) error {
	return s.withTx(ctx, "save exceptions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO exceptions (run_id, exc_id, kind, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := range exceptions {
			stampException(&exceptions[i], now)
			exc := exceptions[i]
			if _, err := stmt.ExecContext(ctx, runID, exc.ID, string(exc.Kind), string(exc.EntityType),
				exc.EntityID, exc.Reason, formatTimestamp(exc.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteRepository) ListCandidates(ctx context.Context, runID, invoiceID string) ([]models.CandidateEdge, error) {
	query := `SELECT invoice_id, txn_id, score, reasons FROM match_candidates WHERE run_id = ?`
	args := []interface{}{runID}
	if invoiceID != "" {
		query += ` AND invoice_id = ?`
		args = append(args, invoiceID)
	}
	query += ` ORDER BY score DESC, invoice_id, txn_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list candidates", err)
	}
	defer rows.Close()

	edges := make([]models.CandidateEdge, 0)
	for rows.Next() {
		var (
			e       models.CandidateEdge
			reasons string
		)
		if err := rows.Scan(&e.InvoiceID, &e.TxnID, &e.Score, &reasons); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan candidate", err)
		}
		e.Evidence = models.ParseEvidence(reasons)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list candidates", err)
	}
	return edges, nil
}

func (s *SQLiteRepository) ListMatches(ctx context.Context, runID string) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT invoice_id, txn_id, score, reasons, matched_at
	FROM matches WHERE run_id = ? ORDER BY score DESC, invoice_id, txn_id`, runID)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list matches", err)
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			m                  Match
			reasons, matchedAt string
		)
		if err := rows.Scan(&m.InvoiceID, &m.TxnID, &m.Score, &reasons, &matchedAt); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan match", err)
		}
		m.Evidence = models.ParseEvidence(reasons)
		m.MatchedAt = parseTimestamp(matchedAt)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list matches", err)
	}
	return matches, nil
}

func (s *SQLiteRepository) ListExceptions(ctx context.Context, runID string, kind models.ExceptionKind) ([]models.Exception, error) {
	query := `SELECT exc_id, kind, entity_type, entity_id, details, created_at FROM exceptions WHERE run_id = ?`
	args := []interface{}{runID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, entity_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list exceptions", err)
	}
	defer rows.Close()

	exceptions := make([]models.Exception, 0)
	for rows.Next() {
		var (
			exc        models.Exception
			kindCol    string
			entityType string
			createdAt  string
		)
		if err := rows.Scan(&exc.ID, &kindCol, &entityType, &exc.EntityID, &exc.Reason, &createdAt); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "scan exception", err)
		}
		exc.Kind = models.ExceptionKind(kindCol)
		exc.EntityType = models.EntityType(entityType)
		exc.CreatedAt = parseTimestamp(createdAt)
		exceptions = append(exceptions, exc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list exceptions", err)
	}
	return exceptions, nil
}

// withTx runs fn inside a transaction, rolling back when it fails
func (s *SQLiteRepository) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, operation, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return errors.StorageError(errors.CodeStorageFailure, operation, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageFailure, operation, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                                Run
		createdAt                          string
		invSource, txnSource, notes        sql.NullString
		paramsJSON, summaryJSON, completed sql.NullString
	)
	if err := row.Scan(&run.RunID, &createdAt, &invSource, &txnSource, &notes,
		&paramsJSON, &summaryJSON, &completed); err != nil {
		return nil, err
	}
	run.CreatedAt = parseTimestamp(createdAt)
	run.InvoicesSource = invSource.String
	run.TransactionsSource = txnSource.String
	run.Notes = notes.String

	if paramsJSON.Valid && paramsJSON.String != "" {
		var params matcher.Params
		if err := json.Unmarshal([]byte(paramsJSON.String), &params); err != nil {
			return nil, err
		}
		run.Params = &params
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var summary matcher.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, err
		}
		run.Summary = &summary
	}
	if completed.Valid && completed.String != "" {
		t := parseTimestamp(completed.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

// stampException assigns an id and creation time when they are missing
func stampException(exc *models.Exception, now time.Time) {
	if exc.ID == "" {
		exc.ID = NewID()
	}
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = now
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(models.DateLayout), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(models.DateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// amounts are stored as decimal text so they survive the round trip exactly
func nullAmount(a decimal.NullDecimal) sql.NullString {
	if !a.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Decimal.String(), Valid: true}
}

func parseAmount(s sql.NullString) decimal.NullDecimal {
	if !s.Valid || s.String == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func nullJSON(v interface{}) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]string:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *matcher.Params:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func parseRaw(s sql.NullString) map[string]string {
	if !s.Valid || s.String == "" {
		return nil
	}
	raw := map[string]string{}
	if err := json.Unmarshal([]byte(s.String), &raw); err != nil {
		return nil
	}
	return raw
}
