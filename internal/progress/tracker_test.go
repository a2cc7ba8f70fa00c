package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestWindowSizeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, MinWindow, WindowSizeFor(1))
	assert.Equal(t, MinWindow, WindowSizeFor(2))
	assert.Equal(t, 12, WindowSizeFor(4))
	assert.Equal(t, MaxWindow, WindowSizeFor(10))
	assert.Equal(t, MaxWindow, WindowSizeFor(100))
}

func TestTrackerUndefinedDuringWarmup(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(100, 2, clk)

	// Plenty of samples, but inside the warm-up duration.
	for i := 1; i <= 10; i++ {
		clk.advance(100 * time.Millisecond)
		_, ok := tr.Record(i)
		assert.False(t, ok, "eta offered before warm-up elapsed")
	}
}

func TestTrackerUndefinedWithoutSamples(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(100, 2, clk)

	// Warm-up satisfied, but too few samples.
	clk.advance(DefaultWarmup + time.Second)
	for i := 1; i < DefaultMinSamples; i++ {
		_, ok := tr.Record(i)
		assert.False(t, ok, "eta offered with %d samples", i)
		clk.advance(time.Second)
	}
}

func TestTrackerETAMatchesMedianRate(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(20, 1, clk)

	// One completion per second: rate = 1/s for every sample.
	var (
		eta time.Duration
		ok  bool
	)
	for i := 1; i <= 10; i++ {
		clk.advance(time.Second)
		eta, ok = tr.Record(i)
	}
	require.True(t, ok)
	// 10 remaining at 1/s.
	assert.InDelta(t, float64(10*time.Second), float64(eta), float64(50*time.Millisecond))
}

func TestTrackerMedianRejectsStalls(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(40, 1, clk)

	// Steady 1/s, with a single 20s stall in the middle.
	completed := 0
	for i := 0; i < 6; i++ {
		clk.advance(time.Second)
		completed++
		tr.Record(completed)
	}
	clk.advance(20 * time.Second)
	completed++
	tr.Record(completed)
	var (
		eta time.Duration
		ok  bool
	)
	for i := 0; i < 6; i++ {
		clk.advance(time.Second)
		completed++
		eta, ok = tr.Record(completed)
	}
	require.True(t, ok)

	// The stall sample (0.05/s) must not dominate: 27 remaining at ~1/s.
	assert.Less(t, eta, 40*time.Second)
	assert.Greater(t, eta, 20*time.Second)
}

func TestTrackerETAClampedNonNegative(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(5, 1, clk)

	var (
		eta time.Duration
		ok  bool
	)
	for i := 1; i <= 8; i++ {
		clk.advance(time.Second)
		// Over-report completions beyond the total.
		eta, ok = tr.Record(i)
	}
	require.True(t, ok)
	assert.GreaterOrEqual(t, eta, time.Duration(0))
}

func TestTrackerWindowEvictsOldest(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1000, 0)}
	tr := NewTracker(1000, 1, clk) // window size = MinWindow

	// First MinWindow samples at a very slow rate, then many fast ones: the
	// slow samples must age out entirely.
	completed := 0
	for i := 0; i < MinWindow; i++ {
		clk.advance(10 * time.Second)
		completed++
		tr.Record(completed)
	}
	var eta time.Duration
	var ok bool
	for i := 0; i < MinWindow; i++ {
		clk.advance(100 * time.Millisecond)
		completed++
		eta, ok = tr.Record(completed)
	}
	require.True(t, ok)

	// All-window at 10/s: remaining ~988 tasks, so roughly 99s. If the slow
	// samples survived, the estimate would be near 9880s.
	assert.Less(t, eta, 300*time.Second)
}
