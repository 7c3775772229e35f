package matcher

import (
	"math"
	"sort"

	"reconcileflow/internal/models"
)

// Solver selects a conflict-free subset of candidate edges. No invoice and no
// transaction may appear in more than one selected edge.
type Solver interface {
	Solve(edges []models.CandidateEdge) []models.CandidateEdge
}

// AssignmentSolver computes a maximum-weight bipartite matching. Every
// connected component of the candidate graph is solved on its own with the
// Hungarian method, so cost grows with the size of the largest component
// rather than with the whole run.
//
// The objective is total score only: an invoice is left unmatched rather
// than forced onto a weak pairing when that lowers the total. Edges are
// canonicalized before solving, so the result does not depend on input order.
type AssignmentSolver struct{}

// NewAssignmentSolver creates the default solver
func NewAssignmentSolver() *AssignmentSolver {
	return &AssignmentSolver{}
}

// Solve returns the accepted edges ordered by descending score, then invoice
// id and transaction id. An empty edge list yields an empty result.
func (s *AssignmentSolver) Solve(edges []models.CandidateEdge) []models.CandidateEdge {
	canonical := canonicalEdges(edges)
	if len(canonical) == 0 {
		return []models.CandidateEdge{}
	}

	accepted := make([]models.CandidateEdge, 0)
	for _, comp := range components(canonical) {
		accepted = append(accepted, solveComponent(comp)...)
	}

	sortEdges(accepted)
	return accepted
}

// canonicalEdges drops non-positive edges, keeps the best edge per pair and
// sorts by invoice id then transaction id.
func canonicalEdges(edges []models.CandidateEdge) []models.CandidateEdge {
	type pair struct{ inv, txn string }
	best := make(map[pair]models.CandidateEdge, len(edges))
	for _, e := range edges {
		if !(e.Score > 0) || math.IsInf(e.Score, 0) {
			continue
		}
		k := pair{e.InvoiceID, e.TxnID}
		cur, ok := best[k]
		if !ok || e.Score > cur.Score || (e.Score == cur.Score && e.Evidence.String() < cur.Evidence.String()) {
			best[k] = e
		}
	}

	out := make([]models.CandidateEdge, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InvoiceID != out[j].InvoiceID {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].TxnID < out[j].TxnID
	})
	return out
}

// components splits sorted edges into connected components. Components come
// back ordered by their first edge, and edges keep their sorted order.
func components(edges []models.CandidateEdge) [][]models.CandidateEdge {
	invIdx := make(map[string]int)
	txnIdx := make(map[string]int)
	for _, e := range edges {
		if _, ok := invIdx[e.InvoiceID]; !ok {
			invIdx[e.InvoiceID] = len(invIdx)
		}
	}
	for _, e := range edges {
		if _, ok := txnIdx[e.TxnID]; !ok {
			txnIdx[e.TxnID] = len(invIdx) + len(txnIdx)
		}
	}

	ds := newDisjointSet(len(invIdx) + len(txnIdx))
	for _, e := range edges {
		ds.union(invIdx[e.InvoiceID], txnIdx[e.TxnID])
	}

	order := make([]int, 0)
	groups := make(map[int][]models.CandidateEdge)
	for _, e := range edges {
		root := ds.find(invIdx[e.InvoiceID])
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], e)
	}

	out := make([][]models.CandidateEdge, 0, len(order))
	for _, root := range order {
		out = append(out, groups[root])
	}
	return out
}

// solveComponent runs the assignment on one connected component.
func solveComponent(edges []models.CandidateEdge) []models.CandidateEdge {
	if len(edges) == 1 {
		return edges
	}

	invIDs := distinct(edges, func(e models.CandidateEdge) string { return e.InvoiceID })
	txnIDs := distinct(edges, func(e models.CandidateEdge) string { return e.TxnID })

	// Rows must not outnumber columns; transpose when invoices dominate.
	transposed := len(invIDs) > len(txnIDs)
	rowIDs, colIDs := invIDs, txnIDs
	if transposed {
		rowIDs, colIDs = txnIDs, invIDs
	}

	rowOf := indexOf(rowIDs)
	colOf := indexOf(colIDs)
	n, m := len(rowIDs), len(colIDs)

	weight := make([]float64, n*m)
	edgeAt := make([]int, n*m)
	for i := range edgeAt {
		edgeAt[i] = -1
	}
	maxW := 0.0
	for k, e := range edges {
		r, c := rowOf[e.InvoiceID], colOf[e.TxnID]
		if transposed {
			r, c = rowOf[e.TxnID], colOf[e.InvoiceID]
		}
		weight[r*m+c] = e.Score
		edgeAt[r*m+c] = k
		if e.Score > maxW {
			maxW = e.Score
		}
	}

	cost := func(r, c int) float64 { return maxW - weight[r*m+c] }
	assign := hungarian(n, m, cost)

	var accepted []models.CandidateEdge
	for r, c := range assign {
		if c < 0 {
			continue
		}
		if k := edgeAt[r*m+c]; k >= 0 {
			accepted = append(accepted, edges[k])
		}
	}
	return accepted
}

// hungarian solves the n×m (n <= m) minimum-cost assignment and returns the
// column assigned to each row. Ties are resolved by the fixed scan order, so
// equal inputs give equal outputs.
func hungarian(n, m int, cost func(r, c int) float64) []int {
	inf := math.Inf(1)
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1) // p[j] is the 1-based row assigned to column j
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			assign[p[j]-1] = j - 1
		}
	}
	return assign
}

func distinct(edges []models.CandidateEdge, key func(models.CandidateEdge) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range edges {
		k := key(e)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func indexOf(ids []string) map[string]int {
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}
	return idx
}

type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

func (ds *disjointSet) union(a, b int) {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
}
