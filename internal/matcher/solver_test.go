package matcher

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"reconcileflow/internal/models"
)

func TestAssignmentSolver_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		edges    []models.CandidateEdge
		expected []string
		total    float64
	}{
		{
			name:     "empty input",
			edges:    nil,
			expected: []string{},
			total:    0,
		},
		{
			name: "competing candidates",
			edges: []models.CandidateEdge{
				edge("X", "A", 80), edge("X", "B", 90),
				edge("Y", "A", 70), edge("Y", "B", 95),
			},
			expected: []string{"Y-B", "X-A"},
			total:    175,
		},
		{
			name: "best edge is not always taken",
			edges: []models.CandidateEdge{
				edge("X", "A", 90), edge("X", "B", 85),
				edge("Y", "A", 85),
			},
			expected: []string{"X-B", "Y-A"},
			total:    170,
		},
		{
			name: "weight beats cardinality",
			edges: []models.CandidateEdge{
				edge("X", "A", 100), edge("X", "B", 10),
				edge("Y", "A", 10),
			},
			expected: []string{"X-A"},
			total:    100,
		},
		{
			name: "more invoices than transactions",
			edges: []models.CandidateEdge{
				edge("X", "A", 60), edge("Y", "A", 75), edge("Z", "A", 70),
			},
			expected: []string{"Y-A"},
			total:    75,
		},
		{
			name: "disconnected components",
			edges: []models.CandidateEdge{
				edge("X", "A", 50), edge("Y", "B", 60), edge("Z", "C", 40),
			},
			expected: []string{"Y-B", "X-A", "Z-C"},
			total:    150,
		},
		{
			name: "zero score edges are never matched",
			edges: []models.CandidateEdge{
				edge("X", "A", 0), edge("Y", "B", 40),
			},
			expected: []string{"Y-B"},
			total:    40,
		},
		{
			name: "duplicate pair keeps the higher score",
			edges: []models.CandidateEdge{
				edge("X", "A", 40), edge("X", "A", 70),
			},
			expected: []string{"X-A"},
			total:    70,
		},
	}

	solver := NewAssignmentSolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := solver.Solve(tt.edges)
			if got == nil {
				t.Fatal("Expected a non-nil result")
			}
			if !reflect.DeepEqual(pairs(got), tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, pairs(got))
			}
			if totalScore(got) != tt.total {
				t.Errorf("Expected total %.0f, got %.0f", tt.total, totalScore(got))
			}
		})
	}
}

func TestAssignmentSolver_OrderInvariant(t *testing.T) {
	edges := []models.CandidateEdge{
		edge("X", "A", 80), edge("X", "B", 80),
		edge("Y", "A", 80), edge("Y", "B", 80),
		edge("Z", "B", 55), edge("Z", "C", 55),
		edge("W", "C", 55),
	}

	solver := NewAssignmentSolver()
	baseline := solver.Solve(edges)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.CandidateEdge(nil), edges...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := solver.Solve(shuffled)
		if !reflect.DeepEqual(got, baseline) {
			t.Fatalf("Shuffle %d changed the result: %v vs %v", i, pairs(got), pairs(baseline))
		}
	}
}

func TestAssignmentSolver_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	solver := NewAssignmentSolver()

	for round := 0; round < 200; round++ {
		nInv := 1 + rng.Intn(4)
		nTxn := 1 + rng.Intn(4)

		var edges []models.CandidateEdge
		for i := 0; i < nInv; i++ {
			for j := 0; j < nTxn; j++ {
				if len(edges) >= 10 || rng.Intn(3) == 0 {
					continue
				}
				edges = append(edges, edge(fmt.Sprintf("I%d", i), fmt.Sprintf("T%d", j), float64(rng.Intn(120))))
			}
		}

		got := solver.Solve(edges)
		assertValidMatching(t, got)

		best := bruteForce(edges, 0, map[string]bool{}, map[string]bool{})
		if math.Abs(totalScore(got)-best) > 1e-9 {
			t.Fatalf("Round %d: solver total %.0f, optimum %.0f, edges %v", round, totalScore(got), best, edges)
		}
	}
}

func assertValidMatching(t *testing.T, matches []models.CandidateEdge) {
	t.Helper()
	invSeen := make(map[string]bool)
	txnSeen := make(map[string]bool)
	for i, m := range matches {
		if invSeen[m.InvoiceID] || txnSeen[m.TxnID] {
			t.Fatalf("Entity matched twice in %v", pairs(matches))
		}
		invSeen[m.InvoiceID] = true
		txnSeen[m.TxnID] = true

		if i > 0 && matches[i-1].Score < m.Score {
			t.Fatalf("Matches not sorted by score: %v", matches)
		}
	}
}

// bruteForce returns the best total weight of any matching over edges[k:].
func bruteForce(edges []models.CandidateEdge, k int, usedInv, usedTxn map[string]bool) float64 {
	if k == len(edges) {
		return 0
	}

	best := bruteForce(edges, k+1, usedInv, usedTxn)
	e := edges[k]
	if e.Score > 0 && !usedInv[e.InvoiceID] && !usedTxn[e.TxnID] {
		usedInv[e.InvoiceID] = true
		usedTxn[e.TxnID] = true
		if v := e.Score + bruteForce(edges, k+1, usedInv, usedTxn); v > best {
			best = v
		}
		delete(usedInv, e.InvoiceID)
		delete(usedTxn, e.TxnID)
	}
	return best
}

func BenchmarkAssignmentSolver(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	var edges []models.CandidateEdge
	for i := 0; i < 300; i++ {
		for k := 0; k < 3; k++ {
			j := i + rng.Intn(5)
			edges = append(edges, edge(fmt.Sprintf("I%05d", i), fmt.Sprintf("T%05d", j), float64(35+rng.Intn(80))))
		}
	}

	solver := NewAssignmentSolver()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		solver.Solve(edges)
	}
}
