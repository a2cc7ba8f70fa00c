// Package metrics exposes Prometheus collectors for the scheduling layer.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the scheduler-level collectors: retries, rotations, and
// worker occupancy. Per-task completion metrics live in the progress sinks.
type Metrics struct {
	registry *prometheus.Registry

	RetriesTotal   prometheus.Counter
	RotationsTotal prometheus.Counter
	ActiveWorkers  prometheus.Gauge
	AuditsTotal    *prometheus.CounterVec
}

// New builds a Metrics instance with its own registry, so concurrent runs in
// tests never collide on collector names.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signaler_retries_total",
			Help: "Task attempts beyond the first, across the whole run.",
		}),
		RotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signaler_rotations_total",
			Help: "Browser resource replacements, proactive and failure-driven.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaler_active_workers",
			Help: "Workers currently executing a task.",
		}),
		AuditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signaler_audits_total",
			Help: "Audit runs partitioned by outcome.",
		}, []string{"status"}),
	}

	toRegister := []prometheus.Collector{
		m.RetriesTotal,
		m.RotationsTotal,
		m.ActiveWorkers,
		m.AuditsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry for additional collectors, such
// as the progress Prometheus sink.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
