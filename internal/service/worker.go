package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/metrics"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
)

// BatchFetcher is satisfied by QueueReader.
type BatchFetcher interface {
	Fetch(ctx context.Context) (*Batch, error)
}

// CycleResult summarizes one poll-and-process cycle.
type CycleResult struct {
	Fetched  int
	Outcomes []Outcome
	Stats    []model.StatsEntry
}

// Worker drains the queue: fetch, dispatch, aggregate stats, then sleep.
type Worker struct {
	Reader     BatchFetcher
	Dispatcher *Dispatcher
	Stats      *StatsService
	Health     *HealthService
	Limiter    *ratelimit.Limiter
	// Snapshots receives rate window counts on every rate sync. Optional.
	Snapshots ratelimit.SnapshotSink
	Metrics   *WorkerMetrics
	Logger    *slog.Logger

	Instance          string
	IdleInterval      time.Duration
	ActiveInterval    time.Duration
	HeartbeatInterval time.Duration
	RateSyncInterval  time.Duration
	// Wake cuts an idle sleep short. Optional.
	Wake <-chan struct{}
	Now  func() time.Time

	initOnce sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.stop = make(chan struct{})
	})
}

// Stop asks Run to return after the current batch. In-flight sends finish.
func (w *Worker) Stop() {
	w.init()
	w.stopOnce.Do(func() { close(w.stop) })
}

// Run loops until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	w.init()
	// Sink writes and in-flight sends outlive the cancellation of ctx.
	bg := context.WithoutCancel(ctx)

	w.Health.Startup(bg, map[string]any{
		"idle_interval":   w.IdleInterval.String(),
		"active_interval": w.ActiveInterval.String(),
	})
	defer w.Health.Shutdown(bg)

	lastHeartbeat := w.now()
	lastSync := w.now()

	for {
		if w.stopping(ctx) {
			return nil
		}

		result, err := w.RunOnce(ctx)

		now := w.now()
		if w.HeartbeatInterval > 0 && now.Sub(lastHeartbeat) >= w.HeartbeatInterval {
			w.Health.Heartbeat(bg)
			lastHeartbeat = now
		}
		if w.RateSyncInterval > 0 && now.Sub(lastSync) >= w.RateSyncInterval {
			w.syncRate(bg)
			lastSync = now
		}

		if w.stopping(ctx) {
			return nil
		}

		interval := w.IdleInterval
		if err == nil && result.Fetched > 0 {
			interval = w.ActiveInterval
		}
		w.sleep(ctx, interval)
	}
}

// RunOnce performs a single fetch and dispatch. A fetch error is logged,
// recorded and returned; nothing is dispatched.
func (w *Worker) RunOnce(ctx context.Context) (CycleResult, error) {
	batch, err := w.Reader.Fetch(ctx)
	if err != nil {
		w.Logger.Error("queue fetch failed", "component", "worker", "error", err)
		w.Metrics.MarkFetchError(w.now(), err)
		metrics.RecordCycleError()
		return CycleResult{}, err
	}

	w.Metrics.MarkRun(w.now(), batch.QueueSize)
	metrics.SetQueueSize(batch.QueueSize)
	if len(batch.Messages) == 0 {
		return CycleResult{}, nil
	}

	sendCtx := context.WithoutCancel(ctx)
	outcomes := w.Dispatcher.Dispatch(sendCtx, batch.Messages, batch.Snapshot)
	entries := Aggregate(outcomes)
	if err := w.Stats.Flush(sendCtx, entries); err != nil {
		w.Logger.Warn("stats flush incomplete", "component", "worker", "error", err)
	}
	w.updateRate()

	counts := map[State]int{}
	for _, o := range outcomes {
		counts[o.State]++
	}
	w.Logger.Info("cycle complete",
		"component", "worker",
		"fetched", len(batch.Messages),
		"queue_size", batch.QueueSize,
		"deferred", batch.Deferred,
		"sent", counts[StateSent],
		"skipped", counts[StateSkipped],
		"retrying", counts[StateRetrying],
		"failed", counts[StateFailed])

	return CycleResult{Fetched: len(batch.Messages), Outcomes: outcomes, Stats: entries}, nil
}

// syncRate prunes the rate windows and publishes their counts.
func (w *Worker) syncRate(ctx context.Context) {
	w.Limiter.Cleanup()
	st := w.updateRate()
	if w.Snapshots == nil {
		return
	}
	if err := w.Snapshots.PublishRateSnapshot(ctx, w.Instance, st); err != nil {
		w.Logger.Warn("failed to publish rate snapshot", "component", "worker", "error", err)
	}
}

func (w *Worker) updateRate() ratelimit.Stats {
	st := w.Limiter.Stats()
	w.Metrics.SetCurrentRate(st.GlobalInWindow)
	metrics.SetGlobalRate(st.GlobalInWindow)
	return st
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-w.Wake:
	case <-timer.C:
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
