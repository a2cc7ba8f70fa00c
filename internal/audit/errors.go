package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Sentinel errors shared across the protocol and scheduling layers.
var (
	// ErrConnectionClosed indicates the DevTools connection went away while
	// a request was outstanding.
	ErrConnectionClosed = errors.New("devtools connection closed")

	// ErrAborted indicates cooperative cancellation was observed; remaining
	// work is skipped without being marked failed.
	ErrAborted = errors.New("run aborted")
)

// ConnectError reports a failure to establish the DevTools connection. It is
// fatal for the whole run.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RemoteError is a structured command failure reported by the browser. It is
// never retried.
type RemoteError struct {
	Method  string
	Code    int64
	Message string
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("remote error: %s", e.Message)
	}
	return fmt.Sprintf("%s: remote error: %s", e.Method, e.Message)
}

// TimeoutError reports that no matching event or response arrived within the
// deadline.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Limit)
}

// CollectError wraps a failure inside the in-process metric collector. The
// page may be fine; the measurement surface was disrupted, so the task is
// worth retrying on a fresh browser.
type CollectError struct {
	Stage string
	Err   error
}

func (e *CollectError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Stage, e.Err)
}

func (e *CollectError) Unwrap() error { return e.Err }

// transientSignatures matches remote/browser error text that indicates a
// disrupted tab or browser rather than a genuine page problem. The catalogue
// is operational knowledge, not a protocol contract.
var transientSignatures = []string{
	"target closed",
	"target crashed",
	"session with given id not found",
	"inspected target navigated or closed",
	"websocket: close",
	"connection reset",
	"broken pipe",
	"browser exited",
}

// IsTransient classifies an error as worth a retry on a replacement
// WorkerResource. Cancellation and abort are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var collectErr *CollectError
	if errors.As(err, &collectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}
