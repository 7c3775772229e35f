package matcher

import (
	"sort"

	"reconcileflow/internal/models"
)

// AmountIndex buckets eligible transactions by their amount in cents so an
// invoice only ever looks at transactions inside its cent band.
type AmountIndex struct {
	buckets map[int64][]*models.Transaction

	// keys holds the bucket keys in ascending order for range lookups
	keys []int64

	indexed    int
	ineligible int
	noAmount   int
}

// NewAmountIndex indexes the inbound transactions that carry an amount.
// Outbound transactions and transactions without an amount are counted but
// never returned by Lookup.
func NewAmountIndex(transactions []*models.Transaction) *AmountIndex {
	ix := &AmountIndex{buckets: make(map[int64][]*models.Transaction)}

	for _, txn := range transactions {
		switch {
		case !txn.IsEligible():
			ix.ineligible++
			continue
		case !txn.Amount.Valid:
			ix.noAmount++
			continue
		}

		cents := Cents(txn.Amount.Decimal)
		if _, exists := ix.buckets[cents]; !exists {
			ix.keys = append(ix.keys, cents)
		}
		ix.buckets[cents] = append(ix.buckets[cents], txn)
		ix.indexed++
	}

	sort.Slice(ix.keys, func(i, j int) bool { return ix.keys[i] < ix.keys[j] })
	return ix
}

// Lookup returns the transactions whose cent value lies in
// [cents-band, cents+band], in ascending cent order.
func (ix *AmountIndex) Lookup(cents, band int64) []*models.Transaction {
	lo, hi := cents-band, cents+band

	start := sort.Search(len(ix.keys), func(i int) bool {
		return ix.keys[i] >= lo
	})

	var result []*models.Transaction
	for i := start; i < len(ix.keys) && ix.keys[i] <= hi; i++ {
		result = append(result, ix.buckets[ix.keys[i]]...)
	}
	return result
}

// Stats returns statistics about the index
func (ix *AmountIndex) Stats() IndexStats {
	return IndexStats{
		Indexed:       ix.indexed,
		UniqueBuckets: len(ix.keys),
		Ineligible:    ix.ineligible,
		MissingAmount: ix.noAmount,
	}
}

// IndexStats provides statistics about index usage
type IndexStats struct {
	Indexed       int `json:"indexed"`
	UniqueBuckets int `json:"unique_buckets"`
	Ineligible    int `json:"ineligible"`
	MissingAmount int `json:"missing_amount"`
}
