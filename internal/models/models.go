package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar date format used for storage and output.
const DateLayout = "2006-01-02"

// Direction is the flow of a bank transaction as reported by the source file.
type Direction string

const (
	DirectionIn      Direction = "IN"
	DirectionCredit  Direction = "CREDIT"
	DirectionReceipt Direction = "RECEIPT"
	DirectionOut     Direction = "OUT"
	DirectionDebit   Direction = "DEBIT"
)

// ParseDirection trims and upper-cases a raw direction. An empty value is
// treated as inbound.
func ParseDirection(raw string) Direction {
	d := strings.ToUpper(strings.TrimSpace(raw))
	if d == "" {
		return DirectionIn
	}
	return Direction(d)
}

// IsInbound reports whether a transaction with this direction may pay an invoice.
func (d Direction) IsInbound() bool {
	switch d {
	case DirectionIn, DirectionCredit, DirectionReceipt, "":
		return true
	}
	return false
}

func (d Direction) String() string {
	return string(d)
}

// Invoice is an open receivable awaiting payment.
type Invoice struct {
	InvoiceID        string              `json:"invoice_id"`
	InvoiceNumber    string              `json:"invoice_number,omitempty"`
	IssueDate        *time.Time          `json:"-"`
	DueDate          *time.Time          `json:"-"`
	Counterparty     string              `json:"counterparty"`
	CounterpartyNorm string              `json:"counterparty_norm"`
	Amount           decimal.NullDecimal `json:"-"`
	Currency         string              `json:"currency,omitempty"`
	Reference        string              `json:"reference"`
	ReferenceNorm    string              `json:"reference_norm"`
	Status           string              `json:"status,omitempty"`
	Raw              map[string]string   `json:"-"`
}

// HasAmount reports whether the invoice amount parsed.
func (i *Invoice) HasAmount() bool {
	return i.Amount.Valid
}

func (i *Invoice) String() string {
	return fmt.Sprintf("Invoice{ID: %s, Amount: %s, Due: %s, Ref: %q}",
		i.InvoiceID, FormatAmount(i.Amount), FormatDate(i.DueDate), i.Reference)
}

// MarshalJSON renders amounts as decimal strings and dates as calendar dates.
func (i *Invoice) MarshalJSON() ([]byte, error) {
	type Alias Invoice
	return json.Marshal(&struct {
		Amount    *string `json:"amount"`
		IssueDate *string `json:"issue_date"`
		DueDate   *string `json:"due_date"`
		*Alias
	}{
		Amount:    amountPtr(i.Amount),
		IssueDate: datePtr(i.IssueDate),
		DueDate:   datePtr(i.DueDate),
		Alias:     (*Alias)(i),
	})
}

// Transaction is a bank movement that may settle an invoice.
type Transaction struct {
	TxnID            string              `json:"txn_id"`
	TxnDate          *time.Time          `json:"-"`
	Counterparty     string              `json:"counterparty"`
	CounterpartyNorm string              `json:"counterparty_norm"`
	Amount           decimal.NullDecimal `json:"-"`
	Currency         string              `json:"currency,omitempty"`
	Direction        Direction           `json:"direction"`
	Reference        string              `json:"reference"`
	ReferenceNorm    string              `json:"reference_norm"`
	Description      string              `json:"description,omitempty"`
	Raw              map[string]string   `json:"-"`
}

// IsEligible reports whether the transaction can be matched to an invoice.
func (t *Transaction) IsEligible() bool {
	return t.Direction.IsInbound()
}

func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Amount: %s, Date: %s, Direction: %s}",
		t.TxnID, FormatAmount(t.Amount), FormatDate(t.TxnDate), t.Direction)
}

// MarshalJSON renders amounts as decimal strings and dates as calendar dates.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	return json.Marshal(&struct {
		Amount  *string `json:"amount"`
		TxnDate *string `json:"txn_date"`
		*Alias
	}{
		Amount:  amountPtr(t.Amount),
		TxnDate: datePtr(t.TxnDate),
		Alias:   (*Alias)(t),
	})
}

// Evidence is the ordered list of observations behind a score,
// e.g. ["amount:exact", "ref:100", "date:0"].
type Evidence []string

// String joins the tags for display and storage.
func (e Evidence) String() string {
	return strings.Join(e, ";")
}

// ParseEvidence splits a stored evidence string back into tags.
func ParseEvidence(s string) Evidence {
	if s == "" {
		return Evidence{}
	}
	return Evidence(strings.Split(s, ";"))
}

// CandidateEdge is a scored possible pairing of one invoice and one transaction.
// Accepted matches are the subset of edges chosen by the solver.
type CandidateEdge struct {
	InvoiceID string   `json:"invoice_id"`
	TxnID     string   `json:"txn_id"`
	Score     float64  `json:"score"`
	Evidence  Evidence `json:"evidence"`
}

func (e CandidateEdge) String() string {
	return fmt.Sprintf("%s<->%s (%.1f: %s)", e.InvoiceID, e.TxnID, e.Score, e.Evidence)
}

// ExceptionKind classifies a reconciliation finding.
type ExceptionKind string

const (
	UnmatchedInvoice     ExceptionKind = "UNMATCHED_INVOICE"
	UnmatchedTransaction ExceptionKind = "UNMATCHED_TRANSACTION"
)

// EntityType names which ledger an exception refers to.
type EntityType string

const (
	EntityInvoice     EntityType = "INVOICE"
	EntityTransaction EntityType = "TRANSACTION"
)

// ReasonNoMatch is the reason attached to every unmatched entity.
const ReasonNoMatch = "No match found"

// Exception is an entity the run could not match. ID and CreatedAt are only
// set once the exception has been stored.
type Exception struct {
	ID         string        `json:"exc_id,omitempty"`
	Kind       ExceptionKind `json:"kind"`
	EntityType EntityType    `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Reason     string        `json:"details"`
	CreatedAt  time.Time     `json:"created_at,omitempty"`
}

// FormatAmount renders an optional amount, empty when absent.
func FormatAmount(a decimal.NullDecimal) string {
	if !a.Valid {
		return ""
	}
	return a.Decimal.StringFixed(2)
}

// FormatDate renders an optional date as YYYY-MM-DD, empty when absent.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// DaysBetween returns the absolute number of calendar days between two dates.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int((da.Unix() - db.Unix()) / 86400)
	if days < 0 {
		return -days
	}
	return days
}

// NewDate builds a date-only value in UTC.
func NewDate(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

// NewAmount builds a present amount from a decimal string. It panics on bad
// input and is meant for literals.
func NewAmount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func amountPtr(a decimal.NullDecimal) *string {
	if !a.Valid {
		return nil
	}
	s := a.Decimal.String()
	return &s
}

func datePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(DateLayout)
	return &s
}
