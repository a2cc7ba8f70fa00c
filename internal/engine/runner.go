package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/device"
)

// DefaultCategories are requested when the caller does not narrow the run.
var DefaultCategories = []string{"performance", "accessibility", "best-practices", "seo"}

// Runner invokes the Node engine once per task and parses its report.
type Runner struct {
	nodePath   string
	entry      string
	categories []string
	logger     *zap.Logger
}

// NewRunner wires a Runner for the resolved entry script. An empty nodePath
// means "node" from PATH; empty categories fall back to the defaults.
func NewRunner(nodePath, entry string, categories []string, logger *zap.Logger) *Runner {
	if nodePath == "" {
		nodePath = "node"
	}
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	return &Runner{nodePath: nodePath, entry: entry, categories: categories, logger: logger}
}

// report mirrors the engine's JSON output shape.
type report struct {
	Categories    []audit.CategoryScore `json:"categories"`
	Metrics       *audit.Metrics        `json:"metrics"`
	Opportunities []audit.Opportunity   `json:"opportunities"`
}

// Run analyzes one page. The engine's internals are a black box: any
// failure (spawn, non-zero exit, malformed output) surfaces as the task's
// error.
func (r *Runner) Run(ctx context.Context, task audit.Task, profile device.Profile, throttling device.Throttling) (audit.Result, error) {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	args := []string{
		r.entry,
		"audit",
		"--url", task.URL,
		"--device", profile.Name,
		"--throttling", throttling.Name,
		"--categories", strings.Join(r.categories, ","),
		"--json",
	}
	cmd := exec.CommandContext(ctx, r.nodePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("invoking analysis engine",
		zap.String("task", task.ID),
		zap.String("url", task.URL),
		zap.String("device", profile.Name))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audit.Result{}, &audit.TimeoutError{Op: "analysis engine", Limit: task.Timeout}
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return audit.Result{}, fmt.Errorf("analysis engine: %w: %s", err, detail)
		}
		return audit.Result{}, fmt.Errorf("analysis engine: %w", err)
	}

	rep, err := parseReport(stdout.Bytes())
	if err != nil {
		return audit.Result{}, err
	}
	return audit.Result{
		Status:        audit.StatusOK,
		Metrics:       rep.Metrics,
		Categories:    rep.Categories,
		Opportunities: rep.Opportunities,
	}, nil
}

// parseReport validates the minimal shape the core depends on; everything
// else in the report passes through untouched.
func parseReport(raw []byte) (report, error) {
	var rep report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return report{}, fmt.Errorf("parse engine report: %w", err)
	}
	if len(rep.Categories) == 0 {
		return report{}, fmt.Errorf("engine report has no categories")
	}
	for _, c := range rep.Categories {
		if c.ID == "" {
			return report{}, fmt.Errorf("engine report category missing id")
		}
		if c.Score < 0 || c.Score > 1 {
			return report{}, fmt.Errorf("engine report category %s score %v out of range", c.ID, c.Score)
		}
	}
	for _, o := range rep.Opportunities {
		if o.ID == "" {
			return report{}, fmt.Errorf("engine report opportunity missing id")
		}
	}
	return rep, nil
}

// Resource adapts the Runner to the scheduler's worker-resource shape. The
// engine launches its own browser per invocation, so there is nothing to
// rotate beyond the invocation itself.
type Resource struct {
	runner *Runner
}

// NewResource wraps the runner.
func NewResource(runner *Runner) *Resource {
	return &Resource{runner: runner}
}

// Execute analyzes one task.
func (r *Resource) Execute(ctx context.Context, task audit.Task) (audit.Result, error) {
	profile, err := device.Lookup(task.Device)
	if err != nil {
		return audit.Result{}, err
	}
	throttling, err := device.LookupThrottling(device.PresetFor(profile))
	if err != nil {
		return audit.Result{}, err
	}
	return r.runner.Run(ctx, task, profile, throttling)
}

// Close is a no-op; the engine holds no state between invocations.
func (r *Resource) Close() {}
