package procpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/audit"
	"github.com/signaler-dev/signaler/internal/scheduler"
)

// RunWorker is the child-process side of the pool: it reads run envelopes
// from in, executes each task through fn (which applies the retry and
// rotation policy locally), and writes one result or error envelope per
// task to out. It returns when in reaches EOF or ctx is cancelled.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer, fn scheduler.TaskFunc, logger *zap.Logger) error {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", audit.ErrAborted, err)
		}

		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode envelope: %w", err)
		}
		if err := env.Validate(); err != nil {
			logger.Warn("dropping malformed envelope", zap.Error(err))
			continue
		}
		if env.Type != TypeRun {
			logger.Warn("dropping unexpected envelope", zap.String("type", string(env.Type)))
			continue
		}

		logger.Debug("worker executing task",
			zap.String("task", env.Task.ID),
			zap.String("url", env.Task.URL))

		res, err := fn(ctx, *env.Task)
		var reply Envelope
		switch {
		case scheduler.IsAbort(err):
			return err
		case err != nil:
			reply = ErrorEnvelope(env.ID, err)
		default:
			reply = ResultEnvelope(env.ID, res)
		}
		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
	}
}
