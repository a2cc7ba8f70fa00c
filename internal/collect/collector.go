// Package collect implements the self-contained in-process analysis pathway:
// navigate a bound session, await load, and pull timing metrics out of the
// page with a single evaluated script.
package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/cdp"
	"github.com/signaler-dev/signaler/internal/device"
)

// metricsScript runs in the page and returns the raw measurement object.
// Timings are milliseconds relative to navigation start.
const metricsScript = `(() => {
	const nav = performance.getEntriesByType('navigation')[0] || {};
	const paints = {};
	for (const p of performance.getEntriesByType('paint')) {
		paints[p.name] = p.startTime;
	}
	const resources = performance.getEntriesByType('resource');
	let transfer = nav.transferSize || 0;
	for (const r of resources) {
		transfer += r.transferSize || 0;
	}
	return {
		ttfb: nav.responseStart || 0,
		domContentLoaded: nav.domContentLoadedEventEnd || 0,
		load: nav.loadEventEnd || 0,
		firstPaint: paints['first-paint'] || 0,
		firstContentfulPaint: paints['first-contentful-paint'] || 0,
		transferBytes: transfer,
		resourceCount: resources.length,
		domNodes: document.querySelectorAll('*').length,
	};
})()`

// pageMetrics mirrors the script's return shape.
type pageMetrics struct {
	TTFB                 float64 `json:"ttfb"`
	DOMContentLoaded     float64 `json:"domContentLoaded"`
	Load                 float64 `json:"load"`
	FirstPaint           float64 `json:"firstPaint"`
	FirstContentfulPaint float64 `json:"firstContentfulPaint"`
	TransferBytes        int64   `json:"transferBytes"`
	ResourceCount        int     `json:"resourceCount"`
	DOMNodes             int     `json:"domNodes"`
}

// Collector runs the in-process pathway over one bound session per task.
type Collector struct {
	logger *zap.Logger
}

// New creates a Collector.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger}
}

// Run applies device emulation, navigates, awaits the load event within the
// task timeout, and evaluates the metrics script.
func (c *Collector) Run(ctx context.Context, sess *cdp.Session, task audit.Task, profile device.Profile) (*audit.Metrics, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ApplyDevice(ctx, sess, profile); err != nil {
		return nil, err
	}
	throttling, err := device.LookupThrottling(device.PresetFor(profile))
	if err != nil {
		return nil, err
	}
	if err := ApplyThrottling(ctx, sess, throttling); err != nil {
		return nil, err
	}
	if _, err := sess.Send(ctx, "Page.enable", page.Enable()); err != nil {
		return nil, fmt.Errorf("enable page domain: %w", err)
	}

	// The subscription must exist before Navigate is issued or a fast page
	// can fire the load event into the void.
	loaded := make(chan struct{}, 1)
	var once sync.Once
	off := sess.Subscribe("Page.loadEventFired", func(cdp.Event) {
		once.Do(func() { loaded <- struct{}{} })
	})
	defer off()

	var nav page.NavigateReturns
	if err := sess.SendInto(ctx, "Page.navigate", page.Navigate(task.URL), &nav); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if nav.ErrorText != "" {
		// A navigation error is the page's problem, not the browser's.
		return nil, fmt.Errorf("navigate %s: %s", task.URL, nav.ErrorText)
	}

	select {
	case <-loaded:
	case <-ctx.Done():
		return nil, &audit.TimeoutError{Op: "wait for Page.loadEventFired", Limit: timeout}
	}

	return c.evaluate(ctx, sess)
}

func (c *Collector) evaluate(ctx context.Context, sess *cdp.Session) (*audit.Metrics, error) {
	params := runtime.Evaluate(metricsScript).WithReturnByValue(true)
	var res runtime.EvaluateReturns
	if err := sess.SendInto(ctx, "Runtime.evaluate", params, &res); err != nil {
		return nil, &audit.CollectError{Stage: "evaluate", Err: err}
	}
	if res.ExceptionDetails != nil {
		return nil, &audit.CollectError{Stage: "evaluate", Err: res.ExceptionDetails}
	}
	if res.Result == nil || len(res.Result.Value) == 0 {
		return nil, &audit.CollectError{Stage: "evaluate", Err: fmt.Errorf("empty result")}
	}

	var raw pageMetrics
	if err := json.Unmarshal(res.Result.Value, &raw); err != nil {
		return nil, &audit.CollectError{Stage: "decode", Err: err}
	}
	return &audit.Metrics{
		TTFBMs:             raw.TTFB,
		DOMContentLoadedMs: raw.DOMContentLoaded,
		LoadMs:             raw.Load,
		FirstPaintMs:       raw.FirstPaint,
		FirstContentfulMs:  raw.FirstContentfulPaint,
		TransferBytes:      raw.TransferBytes,
		ResourceCount:      raw.ResourceCount,
		DOMNodes:           raw.DOMNodes,
	}, nil
}
