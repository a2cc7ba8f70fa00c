package procpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// fakeWorker answers every submitted task from a script.
type fakeWorker struct {
	mu      sync.Mutex
	reply   func(env Envelope) *Envelope // nil return = no reply
	replies chan Envelope
	stopped bool
}

func newFakeWorker(reply func(env Envelope) *Envelope) *fakeWorker {
	return &fakeWorker{reply: reply, replies: make(chan Envelope, replyBuffer)}
}

func (w *fakeWorker) Submit(env Envelope) error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return errors.New("worker stopped")
	}
	if out := w.reply(env); out != nil {
		w.replies <- *out
	}
	return nil
}

func (w *fakeWorker) Replies() <-chan Envelope { return w.replies }

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.replies)
	}
}

func okReply(env Envelope) *Envelope {
	out := ResultEnvelope(env.ID, audit.Result{
		Task:     *env.Task,
		Status:   audit.StatusOK,
		Attempts: 1,
		Duration: 10 * time.Millisecond,
	})
	return &out
}

func makeTasks(n int) []audit.Task {
	tasks := make([]audit.Task, n)
	for i := range tasks {
		tasks[i] = audit.Task{ID: string(rune('a' + i)), URL: "https://example.com", Device: "desktop"}
	}
	return tasks
}

func TestCoordinatorRunsAllTasks(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context) (Worker, error) {
		return newFakeWorker(okReply), nil
	}
	c := NewCoordinator(Config{Parallelism: 2}, factory, realClock{}, zap.NewNop(), nil)

	tasks := makeTasks(5)
	summary, err := c.Run(context.Background(), tasks)
	require.NoError(t, err)

	require.Len(t, summary.Results, 5)
	assert.Equal(t, 5, summary.Succeeded())
	assert.Equal(t, 2, summary.Parallelism)
	for i, res := range summary.Results {
		assert.Equal(t, tasks[i].ID, res.Task.ID, "slot %d holds the wrong task", i)
	}
}

func TestCoordinatorErrorEnvelopeBecomesFailedResult(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context) (Worker, error) {
		return newFakeWorker(func(env Envelope) *Envelope {
			out := ErrorEnvelope(env.ID, errors.New("engine crashed"))
			return &out
		}), nil
	}
	c := NewCoordinator(Config{Parallelism: 1}, factory, realClock{}, zap.NewNop(), nil)

	summary, err := c.Run(context.Background(), makeTasks(2))
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	for _, res := range summary.Results {
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "engine crashed")
	}
}

func TestCoordinatorWorkerLossFailsOnlyInFlightTask(t *testing.T) {
	t.Parallel()

	var created int
	var mu sync.Mutex
	factory := func(ctx context.Context) (Worker, error) {
		mu.Lock()
		created++
		first := created == 1
		mu.Unlock()
		if !first {
			return newFakeWorker(okReply), nil
		}
		// First worker dies on its first task.
		w := newFakeWorker(nil)
		w.reply = func(env Envelope) *Envelope {
			w.Stop()
			return nil
		}
		return w, nil
	}

	c := NewCoordinator(Config{Parallelism: 2}, factory, realClock{}, zap.NewNop(), nil)
	summary, err := c.Run(context.Background(), makeTasks(6))
	require.NoError(t, err)

	failed := 0
	for _, res := range summary.Results {
		if res.Failed() {
			failed++
			assert.Contains(t, res.Error, "worker exited")
		}
	}
	assert.Equal(t, 1, failed, "exactly the in-flight task fails")
	assert.Equal(t, 5, summary.Succeeded())
}

func TestCoordinatorReplyTimeoutFailsTask(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context) (Worker, error) {
		return newFakeWorker(func(env Envelope) *Envelope { return nil }), nil
	}
	c := NewCoordinator(Config{Parallelism: 1, ReplyTimeout: 20 * time.Millisecond},
		factory, realClock{}, zap.NewNop(), nil)

	summary, err := c.Run(context.Background(), makeTasks(1))
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.True(t, summary.Results[0].Failed())
	assert.Contains(t, summary.Results[0].Error, "await worker reply")
}

func TestCoordinatorAbort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	executed := 0
	factory := func(fctx context.Context) (Worker, error) {
		return newFakeWorker(func(env Envelope) *Envelope {
			executed++
			if executed == 2 {
				cancel()
			}
			return okReply(env)
		}), nil
	}
	c := NewCoordinator(Config{Parallelism: 1}, factory, realClock{}, zap.NewNop(), nil)

	summary, err := c.Run(ctx, makeTasks(10))
	require.ErrorIs(t, err, audit.ErrAborted)
	assert.LessOrEqual(t, summary.Succeeded(), 2)
}

func TestCoordinatorFactoryFailureAbortsRun(t *testing.T) {
	t.Parallel()

	factory := func(ctx context.Context) (Worker, error) {
		return nil, errors.New("binary not found")
	}
	c := NewCoordinator(Config{Parallelism: 2}, factory, realClock{}, zap.NewNop(), nil)

	_, err := c.Run(context.Background(), makeTasks(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary not found")
}
