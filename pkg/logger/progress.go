package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs throttled progress of a long-running step such as
// per-invoice candidate generation. It is safe for concurrent use.
type ProgressTracker struct {
	logger   Logger
	step     string
	total    int64
	done     int64
	started  time.Time
	lastLog  time.Time
	interval time.Duration
	mu       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Step        string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:   config.Logger.WithComponent("progress"),
		step:     config.Step,
		total:    config.Total,
		started:  now,
		lastLog:  now,
		interval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"step":  config.Step,
		"total": config.Total,
	}).Debug("Starting step")

	return tracker
}

// Increment advances the counter by one
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Add advances the counter by delta and logs when the interval has elapsed
func (p *ProgressTracker) Add(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += delta
	now := time.Now()
	if now.Sub(p.lastLog) >= p.interval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLog = now
	}
}

// Complete logs final statistics for the step
func (p *ProgressTracker) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.WithFields(p.fields(time.Now())).Info("Step completed")
}

// Stats returns a snapshot of the current progress
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.started)
	stats := ProgressStats{
		Step:     p.step,
		Total:    p.total,
		Current:  p.done,
		Duration: elapsed,
	}
	if elapsed.Seconds() > 0 {
		stats.Rate = float64(p.done) / elapsed.Seconds()
	}
	if p.total > 0 {
		stats.Percentage = float64(p.done) / float64(p.total) * 100
	}
	return stats
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	elapsed := now.Sub(p.started)
	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(p.done) / elapsed.Seconds()
	}

	fields := Fields{
		"step":      p.step,
		"processed": p.done,
		"duration":  elapsed.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.done)/float64(p.total)*100)
		if p.done > 0 && rate > 0 {
			remaining := p.total - p.done
			fields["eta"] = (time.Duration(float64(remaining)/rate) * time.Second).String()
		}
	}
	return fields
}

// ProgressStats contains progress statistics
type ProgressStats struct {
	Step       string        `json:"step"`
	Total      int64         `json:"total"`
	Current    int64         `json:"current"`
	Percentage float64       `json:"percentage"`
	Duration   time.Duration `json:"duration"`
	Rate       float64       `json:"rate"`
}

func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%.1f%%) at %.2f/sec", ps.Step, ps.Current, ps.Total, ps.Percentage, ps.Rate)
	}
	return fmt.Sprintf("%s: %d processed at %.2f/sec", ps.Step, ps.Current, ps.Rate)
}

// OperationLogger provides structured logging for a multi-step operation with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, log Logger) *OperationLogger {
	if log == nil {
		log = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    log,
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}

	ol.logger.WithFields(ol.fields).Info("Starting operation")
	return ol
}

// WithField adds a field to every subsequent entry of the operation
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithFields(ol.fields).WithField("step", step).Info("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.fields).WithFields(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	}).Error(message)
}
