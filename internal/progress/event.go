package progress

import (
	"context"
	"errors"
	"time"

	"github.com/signaler-dev/signaler/internal/audit"
)

// Kind identifies the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindTaskDone Kind = "TASK_DONE"
	KindRunDone  Kind = "RUN_DONE"
)

// Event is one progress milestone handed to sinks.
type Event struct {
	RunID  string
	Kind   Kind
	TS     time.Time
	Result audit.Result

	Completed int
	Total     int
	ETA       time.Duration
	ETAKnown  bool
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindTaskDone:
		if e.Result.Task.URL == "" {
			return errors.New("task completion requires a url")
		}
	case KindRunDone:
	default:
		return errors.New("unknown event kind")
	}
	if e.Completed < 0 || e.Completed > e.Total {
		return errors.New("completed count out of range")
	}
	return nil
}

// Sink consumes progress events. Implementations may be invoked concurrently
// and must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}
