package matcher

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/sourcegraph/conc/iter"

	"reconcileflow/internal/models"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// Generator produces the candidate edges of a run. Each invoice is handled
// independently so generation fans out over a bounded set of goroutines;
// the output order depends only on the input order.
type Generator struct {
	params *Params
	scorer *Scorer
	log    logger.Logger
}

// NewGenerator validates params and creates a generator. A nil scorer uses
// the default similarity provider.
func NewGenerator(params *Params, scorer *Scorer, log logger.Logger) (*Generator, error) {
	if params == nil {
		params = DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	return &Generator{
		params: params.Clone(),
		scorer: scorer,
		log:    log.WithComponent("matcher"),
	}, nil
}

// Generate returns every kept edge, grouped by invoice in input order and
// sorted within each invoice by descending score then transaction id.
func (g *Generator) Generate(invoices []*models.Invoice, transactions []*models.Transaction) []models.CandidateEdge {
	edges, _ := g.generate(invoices, transactions)
	return edges
}

// generate is Generate plus the progress figures of the per-invoice pass
func (g *Generator) generate(invoices []*models.Invoice, transactions []*models.Transaction) ([]models.CandidateEdge, logger.ProgressStats) {
	index := NewAmountIndex(transactions)
	indexStats := index.Stats()
	g.log.WithFields(logger.Fields{
		"invoices":            len(invoices),
		"indexed_txns":        indexStats.Indexed,
		"buckets":             indexStats.UniqueBuckets,
		"ineligible_txns":     indexStats.Ineligible,
		"txns_missing_amount": indexStats.MissingAmount,
	}).Debug("Built amount index")

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Step:   "candidate generation",
		Total:  int64(len(invoices)),
		Logger: g.log,
	})

	workers := g.params.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	mapper := iter.Mapper[*models.Invoice, []models.CandidateEdge]{MaxGoroutines: workers}
	perInvoice := mapper.Map(invoices, func(inv **models.Invoice) []models.CandidateEdge {
		defer progress.Increment()
		return g.invoiceCandidates(*inv, index)
	})
	progress.Complete()
	stats := progress.Stats()

	total := 0
	for _, edges := range perInvoice {
		total += len(edges)
	}

	out := make([]models.CandidateEdge, 0, total)
	for _, edges := range perInvoice {
		out = append(out, edges...)
	}
	return out, stats
}

// invoiceCandidates scores one invoice. A panic while scoring is contained
// to this invoice, which then has no candidates.
func (g *Generator) invoiceCandidates(inv *models.Invoice, index *AmountIndex) (edges []models.CandidateEdge) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.MatchingError(errors.CodeScoringFailed, "candidate scoring", fmt.Errorf("%v", r)).
				WithContext("invoice_id", inv.InvoiceID)
			g.log.WithError(err).WithField("invoice_id", inv.InvoiceID).Warn("Skipping invoice after scoring failure")
			edges = nil
		}
	}()

	if !inv.Amount.Valid {
		return nil
	}

	amount := inv.Amount.Decimal
	pool := index.Lookup(Cents(amount), g.params.BandCents(amount))
	if len(pool) == 0 {
		return nil
	}

	for _, txn := range pool {
		if !g.withinWindow(inv, txn) {
			continue
		}

		score, evidence := g.scorer.ScorePair(inv, txn)
		if score < g.params.MinScoreToKeep {
			continue
		}

		edges = append(edges, models.CandidateEdge{
			InvoiceID: inv.InvoiceID,
			TxnID:     txn.TxnID,
			Score:     score,
			Evidence:  evidence,
		})
	}

	sortEdges(edges)
	if len(edges) > g.params.MaxCandidatesPerInvoice {
		edges = edges[:g.params.MaxCandidatesPerInvoice]
	}
	return edges
}

// withinWindow keeps transactions without a date; the scorer then skips the
// date signal for them.
func (g *Generator) withinWindow(inv *models.Invoice, txn *models.Transaction) bool {
	if inv.DueDate == nil || txn.TxnDate == nil {
		return true
	}
	return models.DaysBetween(*inv.DueDate, *txn.TxnDate) <= g.params.DateWindowDays
}

// sortEdges orders by descending score, then invoice id and transaction id.
func sortEdges(edges []models.CandidateEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.InvoiceID != b.InvoiceID {
			return a.InvoiceID < b.InvoiceID
		}
		return a.TxnID < b.TxnID
	})
}
