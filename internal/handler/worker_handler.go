// internal/handler/worker_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/outreach-delivery/internal/metrics"
	"github.com/unclebandit/outreach-delivery/internal/service"
)

// MetricsSource is satisfied by service.WorkerMetrics.
type MetricsSource interface {
	Snapshot() service.MetricsSnapshot
}

// WorkerHandler exposes the worker's metrics snapshot and liveness.
type WorkerHandler struct {
	Metrics  MetricsSource
	Instance string
}

func NewWorkerHandler(m MetricsSource, instance string) *WorkerHandler {
	return &WorkerHandler{Metrics: m, Instance: instance}
}

// Routes mounts the read-only worker endpoints on r.
func (h *WorkerHandler) Routes(r chi.Router) {
	r.Get("/metrics", h.GetMetricsHandler)
	r.Get("/healthz", h.HealthHandler)
	r.Method(http.MethodGet, "/metrics/prom", metrics.Handler())
}

// GetMetricsHandler returns the WorkerMetrics snapshot as JSON
func (h *WorkerHandler) GetMetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"instance": h.Instance,
		"metrics":  h.Metrics.Snapshot(),
	})
}

// HealthHandler reports degraded when the transport is misconfigured or the
// last queue fetch failed. It always answers 200 while the process is up.
func (h *WorkerHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	snap := h.Metrics.Snapshot()
	status := "ok"
	if snap.Degraded || snap.LastFetchError != "" {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           status,
		"instance":         h.Instance,
		"last_run_at":      snap.LastRunAt,
		"last_fetch_error": snap.LastFetchError,
	})
}
