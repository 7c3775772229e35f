package parsers

import (
	"fmt"
	"strings"
)

// Canonical invoice columns
const (
	ColInvoiceID     = "invoice_id"
	ColInvoiceNumber = "invoice_number"
	ColIssueDate     = "issue_date"
	ColDueDate       = "due_date"
	ColStatus        = "status"
)

// Canonical transaction columns
const (
	ColTxnID       = "txn_id"
	ColTxnDate     = "txn_date"
	ColDirection   = "direction"
	ColDescription = "description"
)

// Columns shared by both files
const (
	ColCounterparty = "counterparty"
	ColAmount       = "amount"
	ColCurrency     = "currency"
	ColReference    = "reference"
)

// InvoiceColumns lists the invoice columns in file order
var InvoiceColumns = []string{
	ColInvoiceID, ColInvoiceNumber, ColIssueDate, ColDueDate,
	ColCounterparty, ColAmount, ColCurrency, ColReference, ColStatus,
}

// TransactionColumns lists the transaction columns in file order
var TransactionColumns = []string{
	ColTxnID, ColTxnDate, ColCounterparty, ColAmount,
	ColCurrency, ColDirection, ColReference, ColDescription,
}

// Schema describes one kind of input file. Columns absent from a file read
// as empty values; only the id column is required.
type Schema struct {
	Name     string            `json:"name" yaml:"name"`
	IDColumn string            `json:"id_column" yaml:"id_column"`
	Columns  []string          `json:"columns" yaml:"columns"`
	Aliases  map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Validate checks the schema is usable
func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	if strings.TrimSpace(s.IDColumn) == "" {
		return fmt.Errorf("id column cannot be empty")
	}

	found := false
	for _, col := range s.Columns {
		if col == s.IDColumn {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("id column %q is not one of the schema columns", s.IDColumn)
	}

	for alias, target := range s.Aliases {
		if !s.hasColumn(target) {
			return fmt.Errorf("alias %q points to unknown column %q", alias, target)
		}
	}
	return nil
}

// Resolve maps a raw header to its canonical column, or "" when unknown.
func (s *Schema) Resolve(header string) string {
	key := HeaderKey(header)
	if s.hasColumn(key) {
		return key
	}
	if target, ok := s.Aliases[key]; ok {
		return target
	}
	return ""
}

func (s *Schema) hasColumn(name string) bool {
	for _, col := range s.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// HeaderKey normalizes a header for lookup: trimmed, lower case, with spaces
// and dashes turned into underscores.
func HeaderKey(header string) string {
	h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// InvoiceSchema returns the schema of invoice files
func InvoiceSchema() *Schema {
	return &Schema{
		Name:     "invoices",
		IDColumn: ColInvoiceID,
		Columns:  InvoiceColumns,
		Aliases: map[string]string{
			"id":             ColInvoiceID,
			"invoice":        ColInvoiceID,
			"number":         ColInvoiceNumber,
			"invoice_no":     ColInvoiceNumber,
			"issued":         ColIssueDate,
			"issue":          ColIssueDate,
			"due":            ColDueDate,
			"customer":       ColCounterparty,
			"client":         ColCounterparty,
			"payer":          ColCounterparty,
			"total":          ColAmount,
			"amount_due":     ColAmount,
			"ccy":            ColCurrency,
			"ref":            ColReference,
			"payment_ref":    ColReference,
			"invoice_status": ColStatus,
		},
	}
}

// TransactionSchema returns the schema of bank transaction files
func TransactionSchema() *Schema {
	return &Schema{
		Name:     "transactions",
		IDColumn: ColTxnID,
		Columns:  TransactionColumns,
		Aliases: map[string]string{
			"id":             ColTxnID,
			"transaction_id": ColTxnID,
			"date":           ColTxnDate,
			"value_date":     ColTxnDate,
			"booking_date":   ColTxnDate,
			"payer":          ColCounterparty,
			"name":           ColCounterparty,
			"value":          ColAmount,
			"ccy":            ColCurrency,
			"type":           ColDirection,
			"dir":            ColDirection,
			"ref":            ColReference,
			"memo":           ColDescription,
			"details":        ColDescription,
			"narrative":      ColDescription,
		},
	}
}

// DuplicatePolicy decides what happens to a row whose id was already seen
type DuplicatePolicy string

const (
	// KeepFirst keeps the first row for an id and reports later ones
	KeepFirst DuplicatePolicy = "first"
	// KeepLast replaces earlier rows with the latest one for an id
	KeepLast DuplicatePolicy = "last"
	// RejectDuplicates fails the whole file
	RejectDuplicates DuplicatePolicy = "reject"
)

// ParserConfig holds configuration shared by the invoice and transaction parsers
type ParserConfig struct {
	Delimiter        rune            `json:"delimiter" yaml:"delimiter"`
	Comment          rune            `json:"comment" yaml:"comment"`
	SkipEmptyRows    bool            `json:"skip_empty_rows" yaml:"skip_empty_rows"`
	ValidateEncoding bool            `json:"validate_encoding" yaml:"validate_encoding"`
	MaxFieldSize     int             `json:"max_field_size" yaml:"max_field_size"`
	MaxProblems      int             `json:"max_problems" yaml:"max_problems"`
	Duplicates       DuplicatePolicy `json:"duplicates" yaml:"duplicates"`
}

// DefaultParserConfig returns a configuration with sensible defaults
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		Delimiter:        ',',
		SkipEmptyRows:    true,
		ValidateEncoding: true,
		MaxFieldSize:     1 << 20,
		MaxProblems:      100,
		Duplicates:       KeepFirst,
	}
}

// Validate checks if the parser configuration is valid
func (c *ParserConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment != 0 && c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative")
	}

	switch c.Duplicates {
	case KeepFirst, KeepLast, RejectDuplicates:
	default:
		return fmt.Errorf("unknown duplicate policy %q", c.Duplicates)
	}
	return nil
}
