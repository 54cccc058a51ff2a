package service

import (
	"context"

	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/model"
)

const healthComponent = "worker-health"

// HealthService writes startup, heartbeat and shutdown entries to the sink.
type HealthService struct {
	Sink     *logging.Sink
	Metrics  *WorkerMetrics
	Instance string
	// Degraded lists the configuration problems the worker started with.
	Degraded []error
}

func (h *HealthService) Startup(ctx context.Context, details map[string]any) {
	d := h.details(details)
	if len(h.Degraded) > 0 {
		d["degraded"] = errorStrings(h.Degraded)
		h.Sink.Record(ctx, healthComponent, model.LogWarn, "worker started in degraded mode", d)
		return
	}
	h.Sink.Record(ctx, healthComponent, model.LogPass, "worker started", d)
}

// Heartbeat reports WARN when degraded or when the last fetch failed.
func (h *HealthService) Heartbeat(ctx context.Context) {
	snap := h.Metrics.Snapshot()
	d := h.details(map[string]any{
		"last_run_at":      snap.LastRunAt,
		"messages_sent":    snap.MessagesSent,
		"messages_failed":  snap.MessagesFailed,
		"messages_skipped": snap.MessagesSkipped,
		"messages_retried": snap.MessagesRetried,
		"current_rate":     snap.CurrentRate,
		"queue_size":       snap.QueueSize,
		"recent_errors":    len(snap.RecentErrors),
	})

	status, message := model.LogInfo, "heartbeat"
	if snap.Degraded || len(h.Degraded) > 0 {
		status, message = model.LogWarn, "heartbeat (degraded)"
	}
	if snap.LastFetchError != "" {
		d["last_fetch_error"] = snap.LastFetchError
		status, message = model.LogWarn, "heartbeat (queue fetch failing)"
	}
	h.Sink.Record(ctx, healthComponent, status, message, d)
}

func (h *HealthService) Shutdown(ctx context.Context) {
	snap := h.Metrics.Snapshot()
	h.Sink.Record(ctx, healthComponent, model.LogInfo, "worker stopped", h.details(map[string]any{
		"messages_sent":   snap.MessagesSent,
		"messages_failed": snap.MessagesFailed,
	}))
}

func (h *HealthService) details(extra map[string]any) map[string]any {
	d := map[string]any{"instance": h.Instance}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
