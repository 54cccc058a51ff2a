package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/idempotency"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
	"github.com/unclebandit/outreach-delivery/internal/store"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

func transientFailure() transport.Result {
	return transport.Result{Err: appErrors.NewTransientProviderError(errors.New("503 service unavailable")), Retryable: true}
}

func TestDeliverSendsAndPersists(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addCampaign(t, "c1", model.ApprovalApproved)
	h.enqueue(t, newMessage("m1", "c1", "alice@example.com"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	require.Equal(t, StateSent, out.State)
	assert.Equal(t, "prov-1", out.ProviderMessageID)

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "prov-1", msg.ProviderMessageID)
	assert.Equal(t, 1, msg.Attempts)
	require.NotNil(t, msg.SentAt)
	assert.True(t, msg.SentAt.Equal(epoch))
	assert.Equal(t, idempotency.ForMessage(msg), msg.IdempotencyKey)
	assert.Nil(t, msg.NextRetryAt)
	assert.Empty(t, msg.LastError)

	assert.Equal(t, 1, h.limiter.Stats().GlobalInWindow)
	assert.Equal(t, int64(1), h.metrics.Snapshot().MessagesSent)
}

func TestDeliverIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	msg := h.get(t, "m1")
	first := h.pipeline.Deliver(context.Background(), msg, nil)
	second := h.pipeline.Deliver(context.Background(), msg, nil)
	third := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)

	assert.Equal(t, StateSent, first.State)
	assert.Equal(t, StateSkipped, second.State)
	assert.Equal(t, StateSkipped, third.State)
	assert.Equal(t, 1, h.transport.Calls())
	assert.Equal(t, 1, h.get(t, "m1").Attempts)
	assert.Equal(t, int64(2), h.metrics.Snapshot().MessagesSkipped)
}

func TestDeliverRespectsPerRecipientLimit(t *testing.T) {
	h := newHarness(t, harnessOptions{limits: ratelimit.Config{PerRecipientLimit: 2, GlobalLimit: 100}})
	h.enqueue(t,
		newMessage("m1", "", "alice@example.com"),
		newMessage("m2", "", "alice@example.com"),
		newMessage("m3", "", "Alice@Example.com"),
	)
	msgs := []*model.QueuedMessage{h.get(t, "m1"), h.get(t, "m2"), h.get(t, "m3")}

	outcomes := h.dispatcher.Dispatch(context.Background(), msgs, nil)

	counts := map[State]int{}
	for _, o := range outcomes {
		counts[o.State]++
	}
	assert.Equal(t, 2, counts[StateSent])
	assert.Equal(t, 1, counts[StateRetrying])
	assert.Equal(t, 2, h.transport.Calls())

	for _, o := range outcomes {
		if o.State != StateRetrying {
			continue
		}
		var rle *appErrors.RateLimitExceeded
		assert.ErrorAs(t, o.Err, &rle)
		msg := h.get(t, o.MessageID)
		assert.Equal(t, model.StatusQueued, msg.Status)
		assert.Equal(t, 0, msg.Attempts)
		require.NotNil(t, msg.NextRetryAt)
		assert.Equal(t, time.Hour, msg.NextRetryAt.Sub(epoch))
	}
}

func TestDeliverBackoffFollowsSchedule(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.respond = func(transport.Message) transport.Result { return transientFailure() }
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	want := []time.Duration{250 * time.Second, 500 * time.Second, 1000 * time.Second}
	var deltas []time.Duration
	for i := range want {
		msg := h.get(t, "m1")
		now := h.clock.Now()
		out := h.pipeline.Deliver(context.Background(), msg, nil)
		require.Equal(t, StateRetrying, out.State)

		stored := h.get(t, "m1")
		require.NotNil(t, stored.NextRetryAt)
		assert.Equal(t, i+1, stored.Attempts)
		assert.Equal(t, model.StatusQueued, stored.Status)
		assert.Contains(t, stored.LastError, "503")
		deltas = append(deltas, stored.NextRetryAt.Sub(now))

		h.clock.Advance(stored.NextRetryAt.Sub(now))
	}

	assert.Equal(t, want, deltas)
	for i := 1; i < len(deltas); i++ {
		assert.GreaterOrEqual(t, deltas[i], deltas[i-1])
	}
	// Failed sends give their rate slot back.
	assert.Equal(t, 0, h.limiter.Stats().GlobalInWindow)
}

func TestDeliverFailsOnFifthRetryableFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.respond = func(transport.Message) transport.Result { return transientFailure() }
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	for i := 1; i <= 4; i++ {
		out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
		require.Equal(t, StateRetrying, out.State, "failure %d", i)
		h.clock.Advance(2 * time.Hour)
	}

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateFailed, out.State)

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, 5, msg.Attempts)
	assert.Nil(t, msg.NextRetryAt)
	assert.Equal(t, 5, h.transport.Calls())

	snap := h.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.MessagesFailed)
	require.Len(t, snap.RecentErrors, 1)
	assert.Equal(t, "m1", snap.RecentErrors[0].MessageID)
}

func TestDeliverPermanentFailureIsTerminal(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.results = []transport.Result{transport.Failure(errors.New("422 invalid `to` field"))}
	h.enqueue(t, newMessage("m1", "", "not-an-address"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateFailed, out.State)

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
}

func TestDeliverSkipsSuppressedRecipient(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.suppress(t, "Bob@Example.com")
	h.enqueue(t, newMessage("m1", "", "bob@example.com"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateFailed, out.State)
	var cv *appErrors.ConsentViolation
	assert.ErrorAs(t, out.Err, &cv)

	assert.Equal(t, 0, h.transport.Calls())
	assert.Equal(t, 0, h.limiter.Stats().GlobalInWindow)

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, 0, msg.Attempts)

	audit := h.logs(t, "consent")
	require.Len(t, audit, 1)
	assert.Equal(t, model.LogWarn, store.String(audit[0], "status"))
}

func TestSuppressedRecipientNeverSentRegardlessOfPosition(t *testing.T) {
	h := newHarness(t, harnessOptions{concurrency: 2})
	h.suppress(t, "bob@example.com")
	h.enqueue(t,
		newMessage("m1", "", "bob@example.com"),
		newMessage("m2", "", "alice@example.com"),
		newMessage("m3", "", "bob@example.com"),
	)

	res, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)

	for _, m := range h.transport.sent {
		assert.NotEqual(t, "bob@example.com", m.To)
	}
	assert.Equal(t, 1, h.transport.Calls())
}

func TestConsentFailsOpenWhenSuppressionsUnavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))
	h.store.SetError(store.TableSuppressions, errors.New("connection refused"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateSent, out.State)
	assert.Equal(t, 1, h.transport.Calls())
}

func TestDeliverDryRun(t *testing.T) {
	h := newHarness(t, harnessOptions{dryRun: true, limits: ratelimit.Config{PerRecipientLimit: 1, GlobalLimit: 100}})
	h.suppress(t, "bob@example.com")
	h.enqueue(t,
		newMessage("m1", "", "alice@example.com"),
		newMessage("m2", "", "alice@example.com"),
		newMessage("m3", "", "bob@example.com"),
	)

	first := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	limited := h.pipeline.Deliver(context.Background(), h.get(t, "m2"), nil)
	suppressed := h.pipeline.Deliver(context.Background(), h.get(t, "m3"), nil)
	again := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)

	assert.Equal(t, StateSent, first.State)
	assert.Equal(t, StateRetrying, limited.State)
	assert.Equal(t, StateFailed, suppressed.State)
	assert.Equal(t, StateSkipped, again.State)
	assert.Equal(t, 0, h.transport.Calls())

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.True(t, strings.HasPrefix(msg.ProviderMessageID, DryRunProviderPrefix))
	assert.Equal(t, int64(1), h.metrics.Snapshot().MessagesSent)
}

func TestDeliverDegradedReschedulesWithoutAttempt(t *testing.T) {
	h := newHarness(t, harnessOptions{degraded: true})
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateRetrying, out.State)
	assert.True(t, appErrors.IsConfiguration(out.Err))

	msg := h.get(t, "m1")
	assert.Equal(t, model.StatusQueued, msg.Status)
	assert.Equal(t, 0, msg.Attempts)
	require.NotNil(t, msg.NextRetryAt)
	assert.Equal(t, 5*time.Minute, msg.NextRetryAt.Sub(epoch))
	assert.Equal(t, 0, h.limiter.Stats().GlobalInWindow)
	assert.True(t, h.metrics.Snapshot().Degraded)
}

func TestDeliverProviderConfigurationError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.results = []transport.Result{transport.Failure(errors.New("401 API key is invalid"))}
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	assert.Equal(t, StateRetrying, out.State)

	msg := h.get(t, "m1")
	assert.Equal(t, 0, msg.Attempts)
	assert.Equal(t, model.StatusQueued, msg.Status)
	require.NotNil(t, msg.NextRetryAt)
	assert.Equal(t, 5*time.Minute, msg.NextRetryAt.Sub(epoch))
}

func TestDeliverRecoversFromPanic(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.transport.respond = func(transport.Message) transport.Result { panic("boom") }
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))

	var out Outcome
	require.NotPanics(t, func() {
		out = h.pipeline.Deliver(context.Background(), h.get(t, "m1"), nil)
	})
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorContains(t, out.Err, "boom")
	assert.Equal(t, 0, h.limiter.Stats().GlobalInWindow)

	snap := h.metrics.Snapshot()
	require.Len(t, snap.RecentErrors, 1)
	assert.Contains(t, snap.RecentErrors[0].Error, "boom")
}

func TestDeliverSurvivesStoreWriteFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.enqueue(t, newMessage("m1", "", "alice@example.com"))
	msg := h.get(t, "m1")
	h.store.SetError(store.TableQueue, errors.New("disk full"))

	out := h.pipeline.Deliver(context.Background(), msg, nil)
	assert.Equal(t, StateRetrying, out.State)
	assert.True(t, appErrors.IsStoreUnavailable(out.Err))
	assert.Equal(t, 0, h.transport.Calls())
	assert.Equal(t, 0, h.limiter.Stats().GlobalInWindow)
	assert.Len(t, h.metrics.Snapshot().RecentErrors, 1)
}

func TestDeliverPersonalizesFromSnapshot(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.enqueue(t, newMessage("m1", "c1", "alice@example.com"))
	snap := &Snapshot{
		Campaigns: map[string]*model.Campaign{"c1": {ID: "c1", ApprovalStatus: model.ApprovalApproved}},
		Contacts:  map[string]*model.Contact{"alice@example.com": {Email: "alice@example.com", FirstName: "Alice", Company: "Acme"}},
	}

	out := h.pipeline.Deliver(context.Background(), h.get(t, "m1"), snap)
	require.Equal(t, StateSent, out.State)
	require.Len(t, h.transport.sent, 1)
	assert.Equal(t, "Hello Alice", h.transport.sent[0].Subject)
	assert.Contains(t, h.transport.sent[0].TextBody, "Acme")
	assert.Equal(t, "c1", h.transport.sent[0].Tags["campaign_id"])
}
