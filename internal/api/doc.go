// Package api hosts the local status HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/progress for the live run snapshot (completed/total/ETA).
//   - GET /api/summary for the finished run's results.
package api
