package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signaler-dev/signaler/internal/progress"
)

// PrometheusSink exports per-task completion metrics.
type PrometheusSink struct {
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	runProgress    prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaler_tasks_completed_total",
			Help: "Task completions partitioned by device and status.",
		}, []string{"device", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signaler_task_duration_seconds",
			Help:    "Wall time per task partitioned by device and status.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
		}, []string{"device", "status"}),
		runProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaler_run_completed_tasks",
			Help: "Tasks completed so far in the current run.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksCompleted,
		s.taskDuration,
		s.runProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from one event. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindTaskDone:
		device := evt.Result.Task.Device
		status := string(evt.Result.Status)
		s.tasksCompleted.WithLabelValues(device, status).Inc()
		s.taskDuration.WithLabelValues(device, status).Observe(evt.Result.Duration.Seconds())
		s.runProgress.Set(float64(evt.Completed))
	case progress.KindRunDone:
		s.runProgress.Set(float64(evt.Completed))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
