// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/signaler-dev/signaler/internal/progress"
)

// LogSink emits structured logs for each completion; the default sink for
// interactive runs.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindTaskDone:
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("url", evt.Result.Task.URL),
			zap.String("device", evt.Result.Task.Device),
			zap.String("status", string(evt.Result.Status)),
			zap.Int("attempts", evt.Result.Attempts),
			zap.Duration("dur", evt.Result.Duration),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
		}
		if evt.ETAKnown {
			fields = append(fields, zap.Duration("eta", evt.ETA))
		}
		if evt.Result.Failed() {
			fields = append(fields, zap.String("error", evt.Result.Error))
			s.logger.Warn("task failed", fields...)
			return nil
		}
		s.logger.Info("task done", fields...)
	case progress.KindRunDone:
		s.logger.Info("run done",
			zap.String("run_id", evt.RunID),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
