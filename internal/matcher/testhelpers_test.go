package matcher

import (
	"time"

	"reconcileflow/internal/models"
)

var baseDue = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func testInvoice(id, amount string, dueOffset int, counterparty, reference string) *models.Invoice {
	inv := &models.Invoice{
		InvoiceID:        id,
		CounterpartyNorm: counterparty,
		ReferenceNorm:    reference,
	}
	if amount != "" {
		inv.Amount = models.NewAmount(amount)
	}
	if dueOffset != noDate {
		d := baseDue.AddDate(0, 0, dueOffset)
		inv.DueDate = &d
	}
	return inv
}

func testTxn(id, amount string, dateOffset int, counterparty, reference string) *models.Transaction {
	txn := &models.Transaction{
		TxnID:            id,
		Direction:        models.DirectionIn,
		CounterpartyNorm: counterparty,
		ReferenceNorm:    reference,
	}
	if amount != "" {
		txn.Amount = models.NewAmount(amount)
	}
	if dateOffset != noDate {
		d := baseDue.AddDate(0, 0, dateOffset)
		txn.TxnDate = &d
	}
	return txn
}

// noDate marks a missing date in the helpers above.
const noDate = -1000

func edge(inv, txn string, score float64) models.CandidateEdge {
	return models.CandidateEdge{InvoiceID: inv, TxnID: txn, Score: score}
}

func pairs(edges []models.CandidateEdge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.InvoiceID+"-"+e.TxnID)
	}
	return out
}

func totalScore(edges []models.CandidateEdge) float64 {
	var sum float64
	for _, e := range edges {
		sum += e.Score
	}
	return sum
}
