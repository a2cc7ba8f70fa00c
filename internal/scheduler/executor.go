package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/metrics"
)

// Resource is one replaceable worker attachment: a browser process plus its
// protocol client, or an external engine handle. Execute returns the raw
// outcome; classification and retry belong to the Executor.
type Resource interface {
	Execute(ctx context.Context, task audit.Task) (audit.Result, error)
	Close()
}

// ResourceFactory creates a fresh Resource. It is called again after every
// rotation.
type ResourceFactory func(ctx context.Context) (Resource, error)

// Counters aggregates retry and rotation totals across all executors of a
// run.
type Counters struct {
	Retries   atomic.Int64
	Rotations atomic.Int64
}

// ExecConfig tunes one Executor.
type ExecConfig struct {
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries int
	// RotateEvery replaces the resource proactively after this many
	// completed tasks. Zero disables proactive rotation.
	RotateEvery int
	// Backoff is the base delay before a retry; the wait grows linearly
	// with the attempt number.
	Backoff time.Duration
}

func (c ExecConfig) withDefaults() ExecConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 300 * time.Millisecond
	}
	return c
}

// Executor runs tasks against a lazily created Resource, retrying transient
// failures with a fresh resource each time.
type Executor struct {
	factory  ResourceFactory
	cfg      ExecConfig
	clock    audit.Clock
	logger   *zap.Logger
	counters *Counters
	metrics  *metrics.Metrics

	res       Resource
	completed int
}

// NewExecutor wires an Executor. counters and m may be nil.
func NewExecutor(factory ResourceFactory, cfg ExecConfig, clock audit.Clock, logger *zap.Logger, counters *Counters, m *metrics.Metrics) *Executor {
	return &Executor{
		factory:  factory,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger,
		counters: counters,
		metrics:  m,
	}
}

// Do runs one task to a terminal result record. The returned error is
// non-nil only when cancellation was observed.
func (e *Executor) Do(ctx context.Context, task audit.Task) (audit.Result, error) {
	start := e.clock.Now()
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return audit.Result{}, fmt.Errorf("%w: %v", audit.ErrAborted, err)
		}

		res, err := e.resource(ctx)
		if err == nil {
			var out audit.Result
			out, err = res.Execute(ctx, task)
			if err == nil {
				out.Task = task
				out.Attempts = attempt
				out.Duration = e.clock.Now().Sub(start)
				e.afterCompletion()
				return out, nil
			}
		}
		if errors.Is(err, audit.ErrAborted) || ctx.Err() != nil {
			return audit.Result{}, fmt.Errorf("%w: %v", audit.ErrAborted, err)
		}
		lastErr = err

		if !audit.IsTransient(err) {
			e.afterCompletion()
			return audit.FailedResult(task, attempt, e.clock.Now().Sub(start), err), nil
		}

		e.logger.Warn("transient failure, rotating browser",
			zap.String("task", task.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		e.rotate()

		if attempt > e.cfg.MaxRetries {
			break
		}
		e.noteRetry()
		if err := e.backoff(ctx, attempt); err != nil {
			return audit.Result{}, err
		}
	}

	return audit.FailedResult(task, e.cfg.MaxRetries+1, e.clock.Now().Sub(start), lastErr), nil
}

// Close releases the current resource, if any.
func (e *Executor) Close() {
	if e.res != nil {
		e.res.Close()
		e.res = nil
	}
}

func (e *Executor) resource(ctx context.Context) (Resource, error) {
	if e.res != nil {
		return e.res, nil
	}
	res, err := e.factory(ctx)
	if err != nil {
		return nil, err
	}
	e.res = res
	e.completed = 0
	return res, nil
}

func (e *Executor) afterCompletion() {
	e.completed++
	if e.cfg.RotateEvery > 0 && e.completed >= e.cfg.RotateEvery {
		e.logger.Debug("proactive browser rotation",
			zap.Int("completed", e.completed))
		e.rotate()
	}
}

func (e *Executor) rotate() {
	e.Close()
	if e.counters != nil {
		e.counters.Rotations.Add(1)
	}
	if e.metrics != nil {
		e.metrics.RotationsTotal.Inc()
	}
}

func (e *Executor) noteRetry() {
	if e.counters != nil {
		e.counters.Retries.Add(1)
	}
	if e.metrics != nil {
		e.metrics.RetriesTotal.Inc()
	}
}

func (e *Executor) backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * e.cfg.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", audit.ErrAborted, ctx.Err())
	}
}
