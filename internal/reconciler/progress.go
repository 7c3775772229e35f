package reconciler

import (
	"sync"
	"time"

	"reconcileflow/pkg/logger"
)

// Step names a pipeline stage
type Step string

const (
	StepParsing    Step = "parsing inputs"
	StepIngest     Step = "storing entities"
	StepMatching   Step = "matching"
	StepPersisting Step = "storing results"
	StepCompleted  Step = "completed"
)

// ReconciliationProgress tracks the progress of a run
type ReconciliationProgress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     Step          `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	Invoices     int `json:"invoices"`
	Transactions int `json:"transactions"`
	MatchesFound int `json:"matches_found"`

	// Generation is set once candidate generation has finished
	Generation *logger.ProgressStats `json:"generation,omitempty"`
}

// ProgressCallback is called with a snapshot each time the run advances
type ProgressCallback func(ReconciliationProgress)

type progressReporter struct {
	mu        sync.RWMutex
	callbacks []ProgressCallback
}

func (r *progressReporter) add(cb ProgressCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

func (r *progressReporter) start(totalSteps int) *progressTracker {
	r.mu.RLock()
	callbacks := append([]ProgressCallback(nil), r.callbacks...)
	r.mu.RUnlock()

	return &progressTracker{
		callbacks: callbacks,
		state: ReconciliationProgress{
			TotalSteps: totalSteps,
			StartTime:  time.Now(),
		},
	}
}

// progressTracker follows a single run
type progressTracker struct {
	callbacks []ProgressCallback
	state     ReconciliationProgress
	started   bool
}

// step marks the previous step done and enters the next one
func (t *progressTracker) step(name Step) {
	if t.started {
		t.state.CompletedSteps++
	}
	t.started = true
	t.state.CurrentStep = name
	t.notify()
}

func (t *progressTracker) record(invoices, transactions int) {
	t.state.Invoices = invoices
	t.state.Transactions = transactions
}

func (t *progressTracker) matched(n int, generation logger.ProgressStats) {
	t.state.MatchesFound = n
	t.state.Generation = &generation
}

func (t *progressTracker) finish() {
	t.state.CompletedSteps = t.state.TotalSteps
	t.state.CurrentStep = StepCompleted
	t.notify()
}

func (t *progressTracker) notify() {
	if t.state.TotalSteps > 0 {
		t.state.PercentComplete = float64(t.state.CompletedSteps) / float64(t.state.TotalSteps) * 100
	}
	t.state.ElapsedTime = time.Since(t.state.StartTime)
	for _, cb := range t.callbacks {
		cb(t.state)
	}
}
