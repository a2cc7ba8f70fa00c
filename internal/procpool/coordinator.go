package procpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/metrics"
	"github.com/signaler-dev/signaler/internal/progress"
	"github.com/signaler-dev/signaler/internal/scheduler"
)

// Worker is one OS-level pool member as the coordinator sees it. The
// coordinator is the sole sender of run envelopes and the sole receiver on
// Replies.
type Worker interface {
	// Submit sends one run envelope to the worker process.
	Submit(env Envelope) error
	// Replies streams the worker's result and error envelopes. The channel
	// closes when the process's output ends.
	Replies() <-chan Envelope
	// Stop tears the worker process down.
	Stop()
}

// WorkerFactory starts one worker process.
type WorkerFactory func(ctx context.Context) (Worker, error)

// DefaultReplyTimeout bounds how long the coordinator waits for a reply to
// one task. It must cover the worker's full local retry budget.
const DefaultReplyTimeout = 5 * time.Minute

// Config tunes the coordinator.
type Config struct {
	Parallelism  int
	HardCap      int
	ReplyTimeout time.Duration
}

// Coordinator fans tasks out to isolated worker processes with the same
// bounded-parallelism and indexed-result semantics as the in-process pool.
// A lost worker fails only its in-flight task; the remaining workers keep
// draining the list.
type Coordinator struct {
	cfg     Config
	factory WorkerFactory
	clock   audit.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	sinks   []progress.Sink
}

// NewCoordinator wires a Coordinator. m may be nil; sinks receive progress
// events.
func NewCoordinator(cfg Config, factory WorkerFactory, clock audit.Clock, logger *zap.Logger, m *metrics.Metrics, sinks ...progress.Sink) *Coordinator {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	return &Coordinator{
		cfg:     cfg,
		factory: factory,
		clock:   clock,
		logger:  logger,
		metrics: m,
		sinks:   sinks,
	}
}

// Run executes every task across the worker processes and returns the batch
// summary.
func (c *Coordinator) Run(ctx context.Context, tasks []audit.Task) (audit.RunSummary, error) {
	runID := uuid.NewString()
	parallelism := scheduler.ResolveParallelism(c.cfg.Parallelism, len(tasks), c.cfg.HardCap)
	start := c.clock.Now()

	c.logger.Info("starting process-pool run",
		zap.String("run_id", runID),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", parallelism))

	tracker := progress.NewTracker(len(tasks), parallelism, c.clock)
	reporter := progress.NewReporter(runID, len(tasks), tracker, c.clock, c.logger, c.sinks...)

	results := make([]audit.Result, len(tasks))
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < parallelism; w++ {
		worker := w
		g.Go(func() error {
			return c.workerLoop(gctx, worker, tasks, results, &next, reporter)
		})
	}
	err := g.Wait()

	summary := audit.RunSummary{
		RunID:       runID,
		Results:     results,
		Elapsed:     c.clock.Now().Sub(start),
		Parallelism: parallelism,
	}
	reporter.RunDone(ctx)
	if err != nil {
		return summary, fmt.Errorf("process-pool run %s: %w", runID, err)
	}
	c.logger.Info("process-pool run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", summary.Succeeded()),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// workerLoop drives one worker process over the shared task list. It
// returns a non-nil error only for cancellation or a failure to start the
// process; losing the process mid-run ends the loop quietly after failing
// the in-flight task.
func (c *Coordinator) workerLoop(ctx context.Context, worker int, tasks []audit.Task, results []audit.Result, next *atomic.Int64, reporter *progress.Reporter) error {
	logger := c.logger.With(zap.Int("worker", worker))

	wk, err := c.factory(ctx)
	if err != nil {
		return fmt.Errorf("start worker %d: %w", worker, err)
	}
	defer wk.Stop()
	if c.metrics != nil {
		c.metrics.ActiveWorkers.Inc()
		defer c.metrics.ActiveWorkers.Dec()
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", audit.ErrAborted, err)
		}
		idx := int(next.Add(1)) - 1
		if idx >= len(tasks) {
			return nil
		}
		task := tasks[idx]
		taskStart := c.clock.Now()

		if err := wk.Submit(RunEnvelope(task)); err != nil {
			logger.Warn("worker lost while submitting", zap.String("task", task.ID), zap.Error(err))
			c.finish(ctx, results, idx, audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart),
				fmt.Errorf("worker lost: %w", err)), reporter)
			return nil
		}

		res, lost, err := c.awaitReply(ctx, wk, task, taskStart)
		if err != nil {
			return err
		}
		c.finish(ctx, results, idx, res, reporter)
		if lost {
			logger.Warn("worker lost, leaving pool", zap.String("task", task.ID))
			return nil
		}
	}
}

// awaitReply blocks until the worker answers for task, the reply deadline
// passes, or cancellation. lost reports that the worker can no longer be
// used.
func (c *Coordinator) awaitReply(ctx context.Context, wk Worker, task audit.Task, taskStart time.Time) (res audit.Result, lost bool, err error) {
	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-wk.Replies():
			if !ok {
				return audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart),
					errors.New("worker exited before replying")), true, nil
			}
			if env.ID != task.ID {
				// Stale reply from a task the coordinator gave up on.
				c.logger.Debug("dropping unmatched reply", zap.String("id", env.ID))
				continue
			}
			return c.fold(env, task, taskStart), false, nil
		case <-timer.C:
			return audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart),
				&audit.TimeoutError{Op: "await worker reply", Limit: c.cfg.ReplyTimeout}), true, nil
		case <-ctx.Done():
			return audit.Result{}, false, fmt.Errorf("%w: %v", audit.ErrAborted, ctx.Err())
		}
	}
}

func (c *Coordinator) fold(env Envelope, task audit.Task, taskStart time.Time) audit.Result {
	if err := env.Validate(); err != nil {
		return audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart), err)
	}
	switch env.Type {
	case TypeResult:
		res := *env.Result
		res.Task = task
		if res.Duration <= 0 {
			res.Duration = c.clock.Now().Sub(taskStart)
		}
		return res
	case TypeError:
		return audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart), errors.New(env.Error))
	default:
		return audit.FailedResult(task, 1, c.clock.Now().Sub(taskStart),
			fmt.Errorf("unexpected reply type %q", env.Type))
	}
}

func (c *Coordinator) finish(ctx context.Context, results []audit.Result, idx int, res audit.Result, reporter *progress.Reporter) {
	results[idx] = res
	if c.metrics != nil {
		c.metrics.AuditsTotal.WithLabelValues(string(res.Status)).Inc()
	}
	reporter.TaskDone(ctx, res)
}
