package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signaler-dev/signaler/internal/api"
	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/chrome"
	"github.com/signaler-dev/signaler/internal/clock/system"
	"github.com/signaler-dev/signaler/internal/collect"
	"github.com/signaler-dev/signaler/internal/config"
	"github.com/signaler-dev/signaler/internal/discover"
	"github.com/signaler-dev/signaler/internal/engine"
	"github.com/signaler-dev/signaler/internal/metrics"
	"github.com/signaler-dev/signaler/internal/procpool"
	"github.com/signaler-dev/signaler/internal/progress"
	psinks "github.com/signaler-dev/signaler/internal/progress/sinks"
	"github.com/signaler-dev/signaler/internal/scheduler"
)

// buildTasks expands the seed URLs into the (url, device) task list, crawling
// for more pages first when discovery depth is configured.
func buildTasks(ctx context.Context, state *appState, seeds []string) ([]audit.Task, error) {
	cfg := state.cfg
	urls := seeds
	if cfg.Discover.MaxDepth > 0 {
		d := discover.New(discover.Config{
			MaxDepth:          cfg.Discover.MaxDepth,
			MaxPages:          cfg.Discover.MaxPages,
			RequestsPerSecond: cfg.Discover.RequestsPerSecond,
			UserAgent:         cfg.Discover.UserAgent,
		}, state.logger)
		found, err := d.Discover(ctx, seeds)
		if err != nil {
			return nil, fmt.Errorf("discover pages: %w", err)
		}
		urls = found
	}
	return discover.Tasks(urls, cfg.Audit.Devices, cfg.TaskTimeout()), nil
}

// buildFactory selects the audit pathway: an in-process browser driven over
// the DevTools protocol, or the external Node analysis engine.
func buildFactory(state *appState) (scheduler.ResourceFactory, error) {
	cfg := state.cfg
	switch cfg.Audit.Pathway {
	case config.PathwayCollect:
		launcher, err := chrome.NewLauncher(chrome.Config{
			ExecPath:    cfg.Browser.ExecPath,
			ExtraFlags:  cfg.Browser.ExtraFlags,
			BootTimeout: cfg.BootTimeout(),
		}, state.logger)
		if err != nil {
			return nil, fmt.Errorf("prepare browser launcher: %w", err)
		}
		collector := collect.New(state.logger)
		return scheduler.NewBrowserFactory(launcher, collector, state.logger), nil
	case config.PathwayEngine:
		info, err := engine.Resolve()
		if err != nil {
			return nil, fmt.Errorf("resolve analysis engine: %w", err)
		}
		entry, err := info.EntryPath()
		if err != nil {
			return nil, fmt.Errorf("resolve analysis engine: %w", err)
		}
		runner := engine.NewRunner(cfg.Engine.NodePath, entry, cfg.Engine.Categories, state.logger)
		return func(context.Context) (scheduler.Resource, error) {
			return engine.NewResource(runner), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown pathway %q", cfg.Audit.Pathway)
	}
}

const timePrecision = time.Millisecond

// executeRun drives the task list through the configured pool, serving the
// status API alongside when enabled, and writes the summary to out.
func executeRun(ctx context.Context, state *appState, tasks []audit.Task, out io.Writer, jsonOut bool) error {
	cfg := state.cfg

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	sinks := []progress.Sink{psinks.NewLogSink(state.logger)}
	promSink, err := psinks.NewPrometheusSink(m.Registry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	sinks = append(sinks, promSink)

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	statusEnabled := cfg.Status.Enabled
	statusAddr := fmt.Sprintf(":%d", cfg.Status.Port)
	if state.statusAddr != "" {
		statusEnabled, statusAddr = true, state.statusAddr
	}

	var ph *api.ProgressHandler
	g, _ := errgroup.WithContext(serveCtx)
	if statusEnabled {
		ph = api.NewProgressHandler(state.logger)
		sinks = append(sinks, ph)
		srv := api.NewServer(m, ph, state.logger)
		g.Go(func() error {
			return srv.Serve(serveCtx, statusAddr)
		})
	}

	summary, runErr := runPool(ctx, state, tasks, m, sinks)
	if runErr != nil {
		stopServe()
		_ = g.Wait()
		return runErr
	}
	if ph != nil {
		ph.SetSummary(summary)
	}
	if err := printSummary(out, summary, jsonOut); err != nil {
		return err
	}
	stopServe()
	return g.Wait()
}

func runPool(ctx context.Context, state *appState, tasks []audit.Task, m *metrics.Metrics, sinks []progress.Sink) (audit.RunSummary, error) {
	cfg := state.cfg
	clock := system.New()

	if cfg.Audit.ProcessPool {
		exe, err := os.Executable()
		if err != nil {
			return audit.RunSummary{}, fmt.Errorf("locate executable: %w", err)
		}
		args := []string{"worker"}
		if state.cfgPath != "" {
			args = append(args, "--config", state.cfgPath)
		}
		factory := func(ctx context.Context) (procpool.Worker, error) {
			return procpool.StartExecWorker(ctx, exe, args, state.logger)
		}
		coord := procpool.NewCoordinator(procpool.Config{
			Parallelism: cfg.Audit.Parallelism,
			HardCap:     cfg.Audit.HardCap,
		}, factory, clock, state.logger, m, sinks...)
		return coord.Run(ctx, tasks)
	}

	factory, err := buildFactory(state)
	if err != nil {
		return audit.RunSummary{}, err
	}
	runner := scheduler.NewRunner(scheduler.Config{
		Parallelism: cfg.Audit.Parallelism,
		HardCap:     cfg.Audit.HardCap,
		MaxRetries:  cfg.Audit.MaxRetries,
		RotateEvery: cfg.Audit.RotateEvery,
		Backoff:     cfg.Backoff(),
		TaskTimeout: cfg.TaskTimeout(),
	}, factory, clock, state.logger, m, sinks...)
	return runner.Run(ctx, tasks)
}

func printSummary(out io.Writer, summary audit.RunSummary, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		return nil
	}

	fmt.Fprintf(out, "run %s: %d/%d succeeded in %s (parallelism %d, retries %d, rotations %d)\n",
		summary.RunID, summary.Succeeded(), len(summary.Results), summary.Elapsed.Round(timePrecision),
		summary.Parallelism, summary.Retries, summary.Rotations)
	for _, res := range summary.Results {
		if res.Failed() {
			fmt.Fprintf(out, "  FAIL %-8s %s  (%d attempts): %s\n", res.Task.Device, res.Task.URL, res.Attempts, res.Error)
			continue
		}
		fmt.Fprintf(out, "  ok   %-8s %s  (%s)\n", res.Task.Device, res.Task.URL, res.Duration.Round(timePrecision))
	}
	return nil
}
