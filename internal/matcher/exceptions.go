package matcher

import (
	"sort"

	"reconcileflow/internal/models"
)

// DeriveExceptions reports every invoice and transaction id that is not part
// of an accepted match. Invoice exceptions come first, each group sorted by
// entity id. Duplicate ids are reported once.
func DeriveExceptions(invoiceIDs, txnIDs []string, matches []models.CandidateEdge) []models.Exception {
	matchedInv := make(map[string]bool, len(matches))
	matchedTxn := make(map[string]bool, len(matches))
	for _, m := range matches {
		matchedInv[m.InvoiceID] = true
		matchedTxn[m.TxnID] = true
	}

	out := make([]models.Exception, 0)
	for _, id := range complement(invoiceIDs, matchedInv) {
		out = append(out, models.Exception{
			Kind:       models.UnmatchedInvoice,
			EntityType: models.EntityInvoice,
			EntityID:   id,
			Reason:     models.ReasonNoMatch,
		})
	}
	for _, id := range complement(txnIDs, matchedTxn) {
		out = append(out, models.Exception{
			Kind:       models.UnmatchedTransaction,
			EntityType: models.EntityTransaction,
			EntityID:   id,
			Reason:     models.ReasonNoMatch,
		})
	}
	return out
}

func complement(ids []string, matched map[string]bool) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if matched[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// InvoiceIDs returns the ids of the given invoices in input order
func InvoiceIDs(invoices []*models.Invoice) []string {
	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.InvoiceID)
	}
	return ids
}

// TransactionIDs returns the ids of the given transactions in input order
func TransactionIDs(transactions []*models.Transaction) []string {
	ids := make([]string, 0, len(transactions))
	for _, txn := range transactions {
		ids = append(ids, txn.TxnID)
	}
	return ids
}
