package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

func TestFetchFiltersAndOrders(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addCampaign(t, "c1", model.ApprovalApproved)

	later := epoch.Add(-time.Minute)
	earlier := epoch.Add(-time.Hour)
	future := epoch.Add(time.Hour)
	sentAt := epoch.Add(-2 * time.Hour)

	h.enqueue(t,
		&model.QueuedMessage{ID: "b", CampaignID: "c1", Recipient: "b@example.com", Status: model.StatusQueued},
		&model.QueuedMessage{ID: "a", CampaignID: "c1", Recipient: "a@example.com", Status: model.StatusQueued},
		&model.QueuedMessage{ID: "retry-late", Recipient: "c@example.com", Status: model.StatusQueued, NextRetryAt: &later},
		&model.QueuedMessage{ID: "retry-early", Recipient: "d@example.com", Status: model.StatusSending, NextRetryAt: &earlier},
		&model.QueuedMessage{ID: "not-due", Recipient: "e@example.com", Status: model.StatusQueued, NextRetryAt: &future},
		&model.QueuedMessage{ID: "delivered", Recipient: "f@example.com", Status: model.StatusQueued, ProviderMessageID: "prov-9"},
		&model.QueuedMessage{ID: "sent-at", Recipient: "g@example.com", Status: model.StatusQueued, SentAt: &sentAt},
		&model.QueuedMessage{ID: "failed", Recipient: "h@example.com", Status: model.StatusFailed},
	)

	batch, err := h.reader.Fetch(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, m := range batch.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "retry-early", "retry-late"}, ids)
	assert.Equal(t, 4, batch.QueueSize)
}

func TestFetchCapsBatchSize(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.reader.BatchSize = 2
	h.enqueue(t,
		newMessage("m1", "", "a@example.com"),
		newMessage("m2", "", "b@example.com"),
		newMessage("m3", "", "c@example.com"),
	)

	batch, err := h.reader.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch.Messages, 2)
	assert.Equal(t, 3, batch.QueueSize)
}

func TestFetchReschedulesUnapprovedCampaign(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addCampaign(t, "pending", model.ApprovalPending)
	h.enqueue(t,
		newMessage("m1", "pending", "a@example.com"),
		newMessage("m2", "missing", "b@example.com"),
	)

	for cycle := 0; cycle < 3; cycle++ {
		batch, err := h.reader.Fetch(context.Background())
		require.NoError(t, err)
		assert.Empty(t, batch.Messages, "cycle %d", cycle)
		assert.Equal(t, 2, batch.Deferred, "cycle %d", cycle)

		for _, id := range []string{"m1", "m2"} {
			msg := h.get(t, id)
			assert.Equal(t, 0, msg.Attempts)
			assert.Equal(t, model.StatusQueued, msg.Status)
			require.NotNil(t, msg.NextRetryAt)
			assert.True(t, msg.NextRetryAt.Equal(h.clock.Now().Add(5*time.Minute)))
			assert.Contains(t, msg.LastError, "not approved")
		}
		h.clock.Advance(5*time.Minute + time.Second)
	}
	assert.Equal(t, 0, h.transport.Calls())
}

func TestFetchFailsClosedWhenCampaignsUnavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addCampaign(t, "c1", model.ApprovalApproved)
	h.enqueue(t,
		newMessage("m1", "c1", "a@example.com"),
		newMessage("m2", "", "b@example.com"),
	)
	h.store.SetError(store.TableCampaigns, errors.New("timeout"))

	batch, err := h.reader.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, "m2", batch.Messages[0].ID)

	held := h.get(t, "m1")
	assert.Nil(t, held.NextRetryAt)
	assert.Equal(t, model.StatusQueued, held.Status)
}

func TestFetchReturnsQueueError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.store.SetError(store.TableQueue, errors.New("timeout"))

	_, err := h.reader.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchReadsLookupsOncePerCycle(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.addCampaign(t, "c1", model.ApprovalApproved)
	require.NoError(t, h.store.AppendRows(context.Background(), store.TableContacts, []store.Row{
		{"email": "A@example.com", "first_name": "Ann", "industry": "Retail"},
	}))
	h.enqueue(t,
		newMessage("m1", "c1", "a@example.com"),
		newMessage("m2", "c1", "a@example.com"),
	)

	batch, err := h.reader.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.Reads(store.TableCampaigns))
	assert.Equal(t, 1, h.store.Reads(store.TableContacts))

	contact := batch.Snapshot.Contact("a@example.com")
	require.NotNil(t, contact)
	assert.Equal(t, "Ann", contact.FirstName)
	assert.Equal(t, "Retail", contact.Tokens()["industry"])
}
