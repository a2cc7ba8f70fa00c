package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/signaler-dev/signaler/internal/audit"
)

// Window and warm-up bounds for the ETA estimator.
const (
	// MinWindow and MaxWindow clamp the sliding rate window.
	MinWindow = 6
	MaxWindow = 30

	// DefaultWarmup is the elapsed time required before an ETA is offered.
	DefaultWarmup = 3 * time.Second
	// DefaultMinSamples is the sample count required before an ETA is offered.
	DefaultMinSamples = 5
)

// WindowSizeFor scales the rate window to the run's parallelism: more
// concurrent workers produce burstier completions and need more smoothing.
func WindowSizeFor(parallelism int) int {
	size := parallelism * 3
	if size < MinWindow {
		return MinWindow
	}
	if size > MaxWindow {
		return MaxWindow
	}
	return size
}

// Tracker estimates remaining run time from completion deltas. The median of
// a bounded window of instantaneous rates rejects stall/burst outliers.
type Tracker struct {
	clock      audit.Clock
	total      int
	windowSize int
	warmup     time.Duration
	minSamples int

	mu            sync.Mutex
	start         time.Time
	lastAt        time.Time
	lastCompleted int
	window        []float64 // completions per second
}

// NewTracker creates a Tracker for a run of total tasks at the given
// parallelism. The clock is injectable for tests.
func NewTracker(total, parallelism int, clock audit.Clock) *Tracker {
	now := clock.Now()
	return &Tracker{
		clock:      clock,
		total:      total,
		windowSize: WindowSizeFor(parallelism),
		warmup:     DefaultWarmup,
		minSamples: DefaultMinSamples,
		start:      now,
		lastAt:     now,
	}
}

// Record updates the estimator with the current completed count. Call it once
// per completion. It returns (eta, true) once the warm-up duration has
// elapsed and enough samples exist, (0, false) before that.
func (t *Tracker) Record(completed int) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	delta := completed - t.lastCompleted
	elapsedMs := now.Sub(t.lastAt).Milliseconds()
	if delta > 0 {
		if elapsedMs < 1 {
			elapsedMs = 1
		}
		rate := float64(delta) * 1000 / float64(elapsedMs)
		t.window = append(t.window, rate)
		if len(t.window) > t.windowSize {
			t.window = t.window[1:]
		}
		t.lastAt = now
		t.lastCompleted = completed
	}

	return t.etaLocked(completed, now)
}

// ETA returns the current estimate without recording a new sample.
func (t *Tracker) ETA() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.etaLocked(t.lastCompleted, t.clock.Now())
}

func (t *Tracker) etaLocked(completed int, now time.Time) (time.Duration, bool) {
	if now.Sub(t.start) < t.warmup || len(t.window) < t.minSamples {
		return 0, false
	}
	med := median(t.window)
	if med <= 0 {
		return 0, false
	}
	remaining := t.total - completed
	if remaining < 0 {
		remaining = 0
	}
	eta := time.Duration(float64(remaining) / med * float64(time.Second))
	if eta < 0 {
		eta = 0
	}
	return eta, true
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
