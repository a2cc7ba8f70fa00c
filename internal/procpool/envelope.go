// Package procpool runs audit tasks in isolated OS worker processes,
// exchanging newline-delimited JSON envelopes over the workers' standard
// streams.
package procpool

import (
	"fmt"

	"github.com/signaler-dev/signaler/internal/audit"
)

// EnvelopeType tags the purpose of a message between coordinator and worker.
type EnvelopeType string

// Envelope kinds. The coordinator only sends "run"; workers only send
// "result" or "error".
const (
	TypeRun    EnvelopeType = "run"
	TypeResult EnvelopeType = "result"
	TypeError  EnvelopeType = "error"
)

// Envelope is one line of the inter-process protocol.
type Envelope struct {
	Type   EnvelopeType  `json:"type"`
	ID     string        `json:"id"`
	Task   *audit.Task   `json:"task,omitempty"`
	Result *audit.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Validate checks that the envelope carries the payload its type requires.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope missing id")
	}
	switch e.Type {
	case TypeRun:
		if e.Task == nil {
			return fmt.Errorf("run envelope %s missing task", e.ID)
		}
	case TypeResult:
		if e.Result == nil {
			return fmt.Errorf("result envelope %s missing result", e.ID)
		}
	case TypeError:
		if e.Error == "" {
			return fmt.Errorf("error envelope %s missing message", e.ID)
		}
	default:
		return fmt.Errorf("envelope %s has unknown type %q", e.ID, e.Type)
	}
	return nil
}

// RunEnvelope builds the coordinator-side message for one task.
func RunEnvelope(task audit.Task) Envelope {
	t := task
	return Envelope{Type: TypeRun, ID: task.ID, Task: &t}
}

// ResultEnvelope builds the worker-side reply for a completed task.
func ResultEnvelope(id string, res audit.Result) Envelope {
	r := res
	return Envelope{Type: TypeResult, ID: id, Result: &r}
}

// ErrorEnvelope builds the worker-side reply for a task that could not be
// executed at all.
func ErrorEnvelope(id string, err error) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Envelope{Type: TypeError, ID: id, Error: msg}
}
