package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
)

// Reporter observes task completions for one run and fans them out to sinks.
// It is an explicit instance passed into the scheduler rather than shared
// process state; completion volume is low, so sinks are called inline.
type Reporter struct {
	runID  string
	clock  audit.Clock
	logger *zap.Logger
	sinks  []Sink

	tracker *Tracker

	mu        sync.Mutex
	completed int
	total     int
	eta       time.Duration
	etaKnown  bool
}

// NewReporter builds a Reporter over the given tracker and sinks.
func NewReporter(runID string, total int, tracker *Tracker, clock audit.Clock, logger *zap.Logger, sinks ...Sink) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		runID:   runID,
		clock:   clock,
		logger:  logger,
		sinks:   sinks,
		tracker: tracker,
		total:   total,
	}
}

// TaskDone records one completion, updates the ETA, and notifies sinks.
func (r *Reporter) TaskDone(ctx context.Context, res audit.Result) {
	r.mu.Lock()
	r.completed++
	completed := r.completed
	eta, known := r.tracker.Record(completed)
	r.eta, r.etaKnown = eta, known
	total := r.total
	r.mu.Unlock()

	r.emit(ctx, Event{
		RunID:     r.runID,
		Kind:      KindTaskDone,
		TS:        r.clock.Now(),
		Result:    res,
		Completed: completed,
		Total:     total,
		ETA:       eta,
		ETAKnown:  known,
	})
}

// RunDone notifies sinks that the run finished and closes them.
func (r *Reporter) RunDone(ctx context.Context) {
	r.mu.Lock()
	completed, total := r.completed, r.total
	r.mu.Unlock()

	r.emit(ctx, Event{
		RunID:     r.runID,
		Kind:      KindRunDone,
		TS:        r.clock.Now(),
		Completed: completed,
		Total:     total,
	})
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil {
			r.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// Snapshot reports the current completion state for the status server.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	ETAMs     int64         `json:"eta_ms"`
	ETAKnown  bool          `json:"eta_known"`
	ETA       time.Duration `json:"-"`
}

// Snapshot returns the current progress state.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		RunID:     r.runID,
		Completed: r.completed,
		Total:     r.total,
		ETAMs:     r.eta.Milliseconds(),
		ETAKnown:  r.etaKnown,
		ETA:       r.eta,
	}
}

func (r *Reporter) emit(ctx context.Context, evt Event) {
	if err := evt.Validate(); err != nil {
		r.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Consume(ctx, evt); err != nil {
			r.logger.Warn("progress sink consume failed", zap.Error(err))
		}
	}
}
