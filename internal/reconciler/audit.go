package reconciler

import (
	"fmt"
	"sort"
	"strings"

	"reconcileflow/internal/models"
	"reconcileflow/internal/parsers"
	"reconcileflow/pkg/errors"
)

// InputAudit summarizes data quality problems that weaken matching. None of
// them stop a run; affected rows simply score lower or never become candidates.
type InputAudit struct {
	InvoicesWithoutAmount     int      `json:"invoices_without_amount"`
	InvoicesWithoutDueDate    int      `json:"invoices_without_due_date"`
	InvoicesWithoutReference  int      `json:"invoices_without_reference"`
	TransactionsWithoutAmount int      `json:"transactions_without_amount"`
	TransactionsWithoutDate   int      `json:"transactions_without_date"`
	OutboundTransactions      int      `json:"outbound_transactions"`
	Currencies                []string `json:"currencies,omitempty"`
	Warnings                  []string `json:"warnings,omitempty"`
}

// AuditInputs inspects parsed inputs for gaps the engine tolerates but cannot use
func AuditInputs(invoices []*models.Invoice, transactions []*models.Transaction) *InputAudit {
	audit := &InputAudit{}
	currencies := make(map[string]bool)

	for _, inv := range invoices {
		if !inv.Amount.Valid {
			audit.InvoicesWithoutAmount++
		}
		if inv.DueDate == nil {
			audit.InvoicesWithoutDueDate++
		}
		if inv.ReferenceNorm == "" {
			audit.InvoicesWithoutReference++
		}
		if c := strings.ToUpper(strings.TrimSpace(inv.Currency)); c != "" {
			currencies[c] = true
		}
	}

	for _, txn := range transactions {
		if !txn.IsEligible() {
			audit.OutboundTransactions++
			continue
		}
		if !txn.Amount.Valid {
			audit.TransactionsWithoutAmount++
		}
		if txn.TxnDate == nil {
			audit.TransactionsWithoutDate++
		}
		if c := strings.ToUpper(strings.TrimSpace(txn.Currency)); c != "" {
			currencies[c] = true
		}
	}

	for c := range currencies {
		audit.Currencies = append(audit.Currencies, c)
	}
	sort.Strings(audit.Currencies)

	if audit.InvoicesWithoutAmount > 0 {
		audit.Warnings = append(audit.Warnings,
			fmt.Sprintf("%d invoices have no usable amount and cannot be matched", audit.InvoicesWithoutAmount))
	}
	if audit.TransactionsWithoutAmount > 0 {
		audit.Warnings = append(audit.Warnings,
			fmt.Sprintf("%d inbound transactions have no usable amount and cannot be matched", audit.TransactionsWithoutAmount))
	}
	if audit.InvoicesWithoutDueDate > 0 {
		audit.Warnings = append(audit.Warnings,
			fmt.Sprintf("%d invoices have no due date; their candidates get no date signal", audit.InvoicesWithoutDueDate))
	}
	// amounts are compared without conversion
	if len(audit.Currencies) > 1 {
		audit.Warnings = append(audit.Warnings,
			fmt.Sprintf("inputs mix currencies %s", strings.Join(audit.Currencies, ", ")))
	}
	return audit
}

// AddParseFindings appends warnings for parse problems that change which
// rows take part in matching.
func (a *InputAudit) AddParseFindings(stats ...*parsers.ParseStats) {
	for _, st := range stats {
		if st == nil {
			continue
		}
		if st.HasProblemCode(errors.CodeDuplicateID) {
			a.Warnings = append(a.Warnings,
				fmt.Sprintf("%s has %d duplicate ids; only one row per id is matched", st.File, st.Duplicates))
		}
		if len(st.MissingColumns) > 0 {
			a.Warnings = append(a.Warnings,
				fmt.Sprintf("%s has no %s column(s)", st.File, strings.Join(st.MissingColumns, ", ")))
		}
	}
}
