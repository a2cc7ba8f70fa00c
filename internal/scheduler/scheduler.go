// Package scheduler runs audit tasks under bounded parallelism with
// timeout, transient-error retry, and periodic browser rotation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/signaler-dev/signaler/internal/audit"
)

// DefaultHardCap bounds requested parallelism. Each worker owns a browser
// process; more than this rarely helps on one machine.
const DefaultHardCap = 4

// ResolveParallelism clamps the requested concurrency into [1, hardCap] and
// never exceeds the remaining task count. A non-positive request means "use
// the cap".
func ResolveParallelism(requested, taskCount, hardCap int) int {
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	p := requested
	if p <= 0 {
		p = hardCap
	}
	if p > hardCap {
		p = hardCap
	}
	if p > taskCount {
		p = taskCount
	}
	if p < 1 {
		p = 1
	}
	return p
}

// TaskFunc executes one task and returns its terminal record. A non-nil
// error means cancellation was observed; every other failure must be folded
// into a failed result record.
type TaskFunc func(ctx context.Context, task audit.Task) (audit.Result, error)

// WorkerSetup builds the TaskFunc for one worker plus its cleanup. Cleanup
// runs when the worker exits, whatever the reason.
type WorkerSetup func(worker int) (TaskFunc, func())

// Run starts exactly parallelism pull-based workers over the shared task
// list. Results land at each task's original index. onDone, when non-nil, is
// invoked once per stored result. When cancellation is observed the
// remaining tasks are left unexecuted and the error wraps audit.ErrAborted.
func Run(ctx context.Context, tasks []audit.Task, parallelism int, setup WorkerSetup, onDone func(audit.Result)) ([]audit.Result, error) {
	results := make([]audit.Result, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if parallelism < 1 {
		parallelism = 1
	}

	var (
		next    atomic.Int64
		aborted atomic.Bool
		wg      sync.WaitGroup
	)

	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			fn, cleanup := setup(worker)
			if cleanup != nil {
				defer cleanup()
			}
			for {
				if ctx.Err() != nil || aborted.Load() {
					return
				}
				idx := int(next.Add(1)) - 1
				if idx >= len(tasks) {
					return
				}
				res, err := fn(ctx, tasks[idx])
				if err != nil {
					aborted.Store(true)
					return
				}
				results[idx] = res
				if onDone != nil {
					onDone(res)
				}
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%w: %v", audit.ErrAborted, err)
	}
	if aborted.Load() {
		return results, audit.ErrAborted
	}
	return results, nil
}

// IsAbort reports whether the error indicates cooperative cancellation.
func IsAbort(err error) bool {
	return errors.Is(err, audit.ErrAborted) || errors.Is(err, context.Canceled)
}
