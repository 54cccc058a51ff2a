package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
	"github.com/unclebandit/outreach-delivery/internal/store"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

func TestRunOnceSendsBatchAndAggregatesStats(t *testing.T) {
	h := newHarness(t, harnessOptions{concurrency: 2})
	h.addCampaign(t, "c1", model.ApprovalApproved)
	h.addCampaign(t, "c2", model.ApprovalApproved)
	h.enqueue(t,
		newMessage("m1", "c1", "a@example.com"),
		newMessage("m2", "c1", "b@example.com"),
		newMessage("m3", "c1", "c@example.com"),
		newMessage("m4", "c2", "d@example.com"),
	)

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)

	for i, o := range res.Outcomes {
		assert.Equal(t, StateSent, o.State)
		assert.Equal(t, fmt.Sprintf("m%d", i+1), o.MessageID)
		assert.Equal(t, model.StatusSent, h.get(t, o.MessageID).Status)
	}

	require.Len(t, res.Stats, 2)
	assert.Equal(t, "c1", res.Stats[0].CampaignID)
	assert.Equal(t, 3, res.Stats[0].Sent)
	assert.Equal(t, "c2", res.Stats[1].CampaignID)
	assert.Equal(t, 1, res.Stats[1].Sent)

	stored, err := h.stats.Get(context.Background(), model.StatsKey(Day(epoch), "c1"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.Sent)

	// Nothing left to send on the next cycle.
	res, err = h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Equal(t, 4, h.transport.Calls())

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(4), snap.MessagesSent)
	assert.Equal(t, 4, snap.CurrentRate)
	require.NotNil(t, snap.LastRunAt)
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	h := newHarness(t, harnessOptions{concurrency: 2})

	var inFlight, peak atomic.Int32
	h.transport.respond = func(m transport.Message) transport.Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return transport.Result{Success: true, ProviderMessageID: "prov-" + m.To}
	}

	var batch []*model.QueuedMessage
	for i := 0; i < 6; i++ {
		m := newMessage(fmt.Sprintf("m%d", i), "", fmt.Sprintf("r%d@example.com", i))
		h.enqueue(t, m)
		batch = append(batch, h.get(t, m.ID))
	}

	outcomes := h.dispatcher.Dispatch(context.Background(), batch, nil)
	require.Len(t, outcomes, 6)
	for i, o := range outcomes {
		assert.Equal(t, batch[i].ID, o.MessageID)
		assert.Equal(t, StateSent, o.State)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, h.transport.Calls())
}

func TestRunOnceFetchError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.store.SetError(store.TableQueue, errors.New("connection reset"))

	_, err := h.worker.RunOnce(context.Background())
	require.Error(t, err)

	snap := h.metrics.Snapshot()
	assert.NotEmpty(t, snap.LastFetchError)

	h.worker.Health.Heartbeat(context.Background())
	rows := h.logs(t, healthComponent)
	require.Len(t, rows, 1)
	assert.Equal(t, model.LogWarn, store.String(rows[0], "status"))

	h.store.SetError(store.TableQueue, nil)
	_, err = h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.metrics.Snapshot().LastFetchError)
}

func TestRunStopsOnStop(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.worker.IdleInterval = 5 * time.Millisecond
	h.enqueue(t, newMessage("m1", "", "a@example.com"))

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.transport.Calls() == 1 }, time.Second, 5*time.Millisecond)
	h.worker.Stop()
	h.worker.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	rows := h.logs(t, healthComponent)
	require.Len(t, rows, 2)
	assert.Equal(t, model.LogPass, store.String(rows[0], "status"))
	assert.Equal(t, "worker stopped", store.String(rows[1], "message"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.worker.IdleInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	require.Eventually(t, func() bool { return h.metrics.Snapshot().LastRunAt != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunWakesEarly(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.worker.IdleInterval = time.Hour
	wake := make(chan struct{}, 1)
	h.worker.Wake = wake

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.worker.Run(ctx) }()

	require.Eventually(t, func() bool { return h.metrics.Snapshot().LastRunAt != nil }, time.Second, 5*time.Millisecond)
	h.enqueue(t, newMessage("m1", "", "a@example.com"))
	wake <- struct{}{}

	require.Eventually(t, func() bool { return h.transport.Calls() == 1 }, time.Second, 5*time.Millisecond)
}

type recordingSnapshotSink struct {
	mu    sync.Mutex
	stats []ratelimit.Stats
}

func (r *recordingSnapshotSink) PublishRateSnapshot(_ context.Context, instance string, st ratelimit.Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if instance != "test" {
		return errors.New("unexpected instance")
	}
	r.stats = append(r.stats, st)
	return nil
}

func TestSyncRatePrunesAndPublishes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	sink := &recordingSnapshotSink{}
	h.worker.Snapshots = sink

	h.limiter.RecordSend("a@example.com")
	h.limiter.RecordSend("b@example.com")
	h.worker.syncRate(context.Background())

	h.clock.Advance(2 * time.Hour)
	h.worker.syncRate(context.Background())

	require.Len(t, sink.stats, 2)
	assert.Equal(t, 2, sink.stats[0].GlobalInWindow)
	assert.Equal(t, 2, sink.stats[0].TrackedRecipients)
	assert.Equal(t, 0, sink.stats[1].GlobalInWindow)
	assert.Equal(t, 0, sink.stats[1].TrackedRecipients)
	assert.Equal(t, 0, h.metrics.Snapshot().CurrentRate)
}
