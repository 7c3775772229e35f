package matcher

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"reconcileflow/internal/models"
	"reconcileflow/internal/similarity"
)

// Amount tier points. Relative error is |invoice - txn| / |invoice|.
const (
	pointsAmountExact = 55
	pointsAmountClose = 42
	pointsAmountMaybe = 18
	pointsAmountFar   = -15
)

var (
	amountExactTolerance = decimal.New(1, -3) // 0.1%
	amountCloseTolerance = decimal.New(1, -2) // 1%
	amountMaybeTolerance = decimal.New(3, -2) // 3%
)

// simTier awards points when a similarity reaches min.
type simTier struct {
	min    float64
	points float64
}

var (
	referenceTiers    = []simTier{{95, 35}, {85, 22}, {70, 10}}
	referencePenalty  = -6.0
	counterpartyTiers = []simTier{{95, 18}, {85, 12}, {70, 6}}
	counterpartyMiss  = -4.0
)

// ScoreInput holds the normalized attributes of one invoice/transaction pair.
// Absent amounts or dates skip their signal.
type ScoreInput struct {
	InvoiceAmount       decimal.NullDecimal
	TxnAmount           decimal.NullDecimal
	InvoiceCounterparty string
	TxnCounterparty     string
	InvoiceReference    string
	TxnReference        string
	InvoiceDueDate      *time.Time
	TxnDate             *time.Time
}

// Scorer turns the evidence for a pair into a single non-negative weight.
// Every signal contributes independently: amount, then reference, then
// counterparty, then date. It holds no mutable state.
type Scorer struct {
	sim similarity.Provider
}

// NewScorer creates a scorer backed by the given similarity provider.
// A nil provider selects the token set ratio.
func NewScorer(sim similarity.Provider) *Scorer {
	if sim == nil {
		sim = similarity.TokenSet{}
	}
	return &Scorer{sim: sim}
}

// ScorePair scores an invoice against a transaction using their normalized fields.
func (s *Scorer) ScorePair(inv *models.Invoice, txn *models.Transaction) (float64, models.Evidence) {
	return s.Score(ScoreInput{
		InvoiceAmount:       inv.Amount,
		TxnAmount:           txn.Amount,
		InvoiceCounterparty: inv.CounterpartyNorm,
		TxnCounterparty:     txn.CounterpartyNorm,
		InvoiceReference:    inv.ReferenceNorm,
		TxnReference:        txn.ReferenceNorm,
		InvoiceDueDate:      inv.DueDate,
		TxnDate:             txn.TxnDate,
	})
}

// Score returns the clamped total and the evidence tags in signal order.
func (s *Scorer) Score(in ScoreInput) (float64, models.Evidence) {
	var score float64
	evidence := make(models.Evidence, 0, 4)

	if in.InvoiceAmount.Valid && in.TxnAmount.Valid {
		points, tag := amountSignal(in.InvoiceAmount.Decimal, in.TxnAmount.Decimal)
		score += points
		evidence = append(evidence, tag)
	}

	if in.InvoiceReference != "" && in.TxnReference != "" {
		sim := s.sim.Similarity(in.InvoiceReference, in.TxnReference)
		score += tierPoints(sim, referenceTiers, referencePenalty)
		evidence = append(evidence, fmt.Sprintf("ref:%d", simTag(sim)))
	}

	if in.InvoiceCounterparty != "" && in.TxnCounterparty != "" {
		sim := s.sim.Similarity(in.InvoiceCounterparty, in.TxnCounterparty)
		score += tierPoints(sim, counterpartyTiers, counterpartyMiss)
		evidence = append(evidence, fmt.Sprintf("cp:%d", simTag(sim)))
	}

	if in.InvoiceDueDate != nil && in.TxnDate != nil {
		dd := models.DaysBetween(*in.InvoiceDueDate, *in.TxnDate)
		score += datePoints(dd)
		evidence = append(evidence, fmt.Sprintf("date:%d", dd))
	}

	if score < 0 {
		score = 0
	}
	return score, evidence
}

func amountSignal(invoice, txn decimal.Decimal) (float64, string) {
	if invoice.IsZero() {
		if txn.IsZero() {
			return pointsAmountExact, "amount:exact"
		}
		return pointsAmountFar, "amount:far"
	}

	diff := invoice.Sub(txn).Abs()
	base := invoice.Abs()
	switch {
	case diff.LessThanOrEqual(base.Mul(amountExactTolerance)):
		return pointsAmountExact, "amount:exact"
	case diff.LessThanOrEqual(base.Mul(amountCloseTolerance)):
		return pointsAmountClose, "amount:close"
	case diff.LessThanOrEqual(base.Mul(amountMaybeTolerance)):
		return pointsAmountMaybe, "amount:maybe"
	default:
		return pointsAmountFar, "amount:far"
	}
}

// simTag floors a similarity for its evidence tag, so a tag never shows a
// tier threshold the score did not reach.
func simTag(sim float64) int {
	return int(math.Floor(sim))
}

func tierPoints(sim float64, tiers []simTier, miss float64) float64 {
	for _, t := range tiers {
		if sim >= t.min {
			return t.points
		}
	}
	return miss
}

func datePoints(days int) float64 {
	switch {
	case days == 0:
		return 10
	case days <= 2:
		return 8
	case days <= 5:
		return 4
	default:
		return -2
	}
}
