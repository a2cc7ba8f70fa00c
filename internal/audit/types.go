// Package audit defines core types shared across subsystems.
package audit

import (
	"time"
)

// Pathway selects how a task's metrics are produced.
type Pathway string

// Supported analysis pathways.
const (
	// PathwayCollect runs the in-process metric-collection script over the
	// DevTools session.
	PathwayCollect Pathway = "collect"
	// PathwayEngine delegates the page analysis to the external engine.
	PathwayEngine Pathway = "engine"
)

// Task describes a single (url, device) audit unit. Immutable once enqueued.
type Task struct {
	ID      string        `json:"id"`
	URL     string        `json:"url"`
	Label   string        `json:"label,omitempty"`
	Device  string        `json:"device"`
	Timeout time.Duration `json:"timeout"`
}

// Status is the terminal state of a task.
type Status string

// Task result states.
const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Metrics holds the named timing and page-shape measurements gathered for a
// page. Timings are milliseconds relative to navigation start.
type Metrics struct {
	TTFBMs             float64 `json:"ttfb_ms"`
	DOMContentLoadedMs float64 `json:"dom_content_loaded_ms"`
	LoadMs             float64 `json:"load_ms"`
	FirstPaintMs       float64 `json:"first_paint_ms"`
	FirstContentfulMs  float64 `json:"first_contentful_paint_ms"`
	TransferBytes      int64   `json:"transfer_bytes"`
	ResourceCount      int     `json:"resource_count"`
	DOMNodes           int     `json:"dom_nodes"`
}

// CategoryScore is one scored category reported by the analysis engine.
type CategoryScore struct {
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

// Opportunity is one ranked optimization suggestion with estimated savings.
type Opportunity struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	SavingsMs float64 `json:"savings_ms"`
}

// Result is the terminal record produced for every task, success or failure.
type Result struct {
	Task          Task            `json:"task"`
	Status        Status          `json:"status"`
	Error         string          `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	Duration      time.Duration   `json:"duration"`
	Metrics       *Metrics        `json:"metrics,omitempty"`
	Categories    []CategoryScore `json:"categories,omitempty"`
	Opportunities []Opportunity   `json:"opportunities,omitempty"`
}

// Failed reports whether the result carries a terminal error.
func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// FailedResult builds the failed record for a task.
func FailedResult(task Task, attempts int, dur time.Duration, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Task:     task,
		Status:   StatusFailed,
		Error:    msg,
		Attempts: attempts,
		Duration: dur,
	}
}

// RunSummary is handed to the report/CLI layer together with the per-task
// results.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Results     []Result      `json:"results"`
	Elapsed     time.Duration `json:"elapsed"`
	Parallelism int           `json:"parallelism"`
	Retries     int64         `json:"retries"`
	Rotations   int64         `json:"rotations"`
}

// Succeeded counts the results that completed without a terminal error.
func (s RunSummary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusOK {
			n++
		}
	}
	return n
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
