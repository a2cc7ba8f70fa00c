package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/cdp"
	"github.com/signaler-dev/signaler/internal/chrome"
	"github.com/signaler-dev/signaler/internal/collect"
	"github.com/signaler-dev/signaler/internal/device"
	"github.com/signaler-dev/signaler/internal/metrics"
	"github.com/signaler-dev/signaler/internal/progress"
)

// Config tunes a full audit run.
type Config struct {
	Parallelism int
	HardCap     int
	MaxRetries  int
	RotateEvery int
	Backoff     time.Duration
	TaskTimeout time.Duration
}

// Runner drives a batch of tasks through a pool of executors and reports
// progress as results land.
type Runner struct {
	cfg     Config
	factory ResourceFactory
	clock   audit.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	sinks   []progress.Sink
}

// NewRunner wires a Runner. m may be nil; sinks receive progress events.
func NewRunner(cfg Config, factory ResourceFactory, clock audit.Clock, logger *zap.Logger, m *metrics.Metrics, sinks ...progress.Sink) *Runner {
	return &Runner{
		cfg:     cfg,
		factory: factory,
		clock:   clock,
		logger:  logger,
		metrics: m,
		sinks:   sinks,
	}
}

// Run executes every task and returns the batch summary. On cancellation the
// summary carries whatever completed and the error wraps audit.ErrAborted.
func (r *Runner) Run(ctx context.Context, tasks []audit.Task) (audit.RunSummary, error) {
	runID := uuid.NewString()
	parallelism := ResolveParallelism(r.cfg.Parallelism, len(tasks), r.cfg.HardCap)
	start := r.clock.Now()

	if r.cfg.TaskTimeout > 0 {
		for i := range tasks {
			if tasks[i].Timeout <= 0 {
				tasks[i].Timeout = r.cfg.TaskTimeout
			}
		}
	}

	r.logger.Info("starting audit run",
		zap.String("run_id", runID),
		zap.Int("tasks", len(tasks)),
		zap.Int("parallelism", parallelism))

	tracker := progress.NewTracker(len(tasks), parallelism, r.clock)
	reporter := progress.NewReporter(runID, len(tasks), tracker, r.clock, r.logger, r.sinks...)

	counters := &Counters{}
	setup := func(worker int) (TaskFunc, func()) {
		if r.metrics != nil {
			r.metrics.ActiveWorkers.Inc()
		}
		exec := NewExecutor(r.factory, ExecConfig{
			MaxRetries:  r.cfg.MaxRetries,
			RotateEvery: r.cfg.RotateEvery,
			Backoff:     r.cfg.Backoff,
		}, r.clock, r.logger.With(zap.Int("worker", worker)), counters, r.metrics)
		cleanup := func() {
			exec.Close()
			if r.metrics != nil {
				r.metrics.ActiveWorkers.Dec()
			}
		}
		return exec.Do, cleanup
	}

	onDone := func(res audit.Result) {
		if r.metrics != nil {
			r.metrics.AuditsTotal.WithLabelValues(string(res.Status)).Inc()
		}
		reporter.TaskDone(ctx, res)
	}

	results, err := Run(ctx, tasks, parallelism, setup, onDone)

	summary := audit.RunSummary{
		RunID:       runID,
		Results:     results,
		Elapsed:     r.clock.Now().Sub(start),
		Parallelism: parallelism,
		Retries:     counters.Retries.Load(),
		Rotations:   counters.Rotations.Load(),
	}
	reporter.RunDone(ctx)
	if err != nil {
		return summary, fmt.Errorf("audit run %s: %w", runID, err)
	}
	r.logger.Info("audit run finished",
		zap.String("run_id", runID),
		zap.Int("succeeded", summary.Succeeded()),
		zap.Int64("retries", summary.Retries),
		zap.Int64("rotations", summary.Rotations),
		zap.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// BrowserResource runs tasks in-process: one Chrome per worker, one page
// session per task.
type BrowserResource struct {
	browser   *chrome.Browser
	client    *cdp.Client
	collector *collect.Collector
	logger    *zap.Logger
}

// NewBrowserFactory returns a ResourceFactory that launches Chrome through
// the given launcher and audits pages with the collector.
func NewBrowserFactory(launcher *chrome.Launcher, collector *collect.Collector, logger *zap.Logger) ResourceFactory {
	return func(ctx context.Context) (Resource, error) {
		browser, err := launcher.Start(ctx)
		if err != nil {
			return nil, err
		}
		client, err := cdp.Dial(ctx, browser.WebSocketURL, logger)
		if err != nil {
			browser.Stop()
			return nil, err
		}
		return &BrowserResource{
			browser:   browser,
			client:    client,
			collector: collector,
			logger:    logger,
		}, nil
	}
}

// Execute audits one page in a fresh target, detaching it afterwards.
func (b *BrowserResource) Execute(ctx context.Context, task audit.Task) (audit.Result, error) {
	profile, err := device.Lookup(task.Device)
	if err != nil {
		return audit.Result{}, err
	}
	sess, err := b.client.BindSession(ctx)
	if err != nil {
		return audit.Result{}, err
	}
	defer sess.Close(ctx)
	m, err := b.collector.Run(ctx, sess, task, profile)
	if err != nil {
		return audit.Result{}, err
	}
	return audit.Result{Status: audit.StatusOK, Metrics: m}, nil
}

// Close tears down the protocol client and the browser process.
func (b *BrowserResource) Close() {
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			b.logger.Debug("closing protocol client", zap.Error(err))
		}
	}
	if b.browser != nil {
		b.browser.Stop()
	}
}
