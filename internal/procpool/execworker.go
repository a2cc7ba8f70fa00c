package procpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// replyBuffer bounds the worker's mailbox toward the coordinator.
const replyBuffer = 4

// ExecWorker runs the pool protocol over a child process's standard
// streams.
type ExecWorker struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	writeMu sync.Mutex
	replies chan Envelope
	logger  *zap.Logger

	stopOnce sync.Once
}

// StartExecWorker launches path with args and begins decoding its replies.
// The child inherits stderr so its logs stay visible.
func StartExecWorker(ctx context.Context, path string, args []string, logger *zap.Logger) (*ExecWorker, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	w := &ExecWorker{
		cmd:     cmd,
		stdin:   stdin,
		enc:     json.NewEncoder(stdin),
		replies: make(chan Envelope, replyBuffer),
		logger:  logger,
	}
	go w.readLoop(stdout)
	return w, nil
}

// Submit writes one run envelope to the worker's stdin.
func (w *ExecWorker) Submit(env Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.enc.Encode(env); err != nil {
		return fmt.Errorf("write to worker: %w", err)
	}
	return nil
}

// Replies streams the worker's result and error envelopes.
func (w *ExecWorker) Replies() <-chan Envelope {
	return w.replies
}

// Stop closes stdin so the worker exits on EOF, then reaps the process.
func (w *ExecWorker) Stop() {
	w.stopOnce.Do(func() {
		if err := w.stdin.Close(); err != nil {
			w.logger.Debug("closing worker stdin", zap.Error(err))
		}
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		if err := w.cmd.Wait(); err != nil {
			w.logger.Debug("worker process exited", zap.Error(err))
		}
	})
}

func (w *ExecWorker) readLoop(stdout io.Reader) {
	defer close(w.replies)
	dec := json.NewDecoder(stdout)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if err != io.EOF {
				w.logger.Debug("worker stream ended", zap.Error(err))
			}
			return
		}
		w.replies <- env
	}
}
