package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/retry"
)

// Snapshot holds the campaign and contact tables as read once per cycle.
// Pipelines only read from it.
type Snapshot struct {
	Campaigns map[string]*model.Campaign
	Contacts  map[string]*model.Contact
}

func (s *Snapshot) Campaign(id string) *model.Campaign {
	if s == nil || id == "" {
		return nil
	}
	return s.Campaigns[id]
}

func (s *Snapshot) Contact(addr string) *model.Contact {
	if s == nil {
		return nil
	}
	return s.Contacts[model.NormalizeAddress(addr)]
}

// Batch is one cycle's worth of work.
type Batch struct {
	Messages []*model.QueuedMessage
	Snapshot *Snapshot
	// QueueSize counts every eligible message, including those beyond the batch cap.
	QueueSize int
	// Deferred counts messages rescheduled because their campaign is not approved.
	Deferred int
}

// QueueReader selects the messages a cycle should attempt.
type QueueReader struct {
	MessageRepo  repository.MessageRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Scheduler    *retry.Scheduler
	BatchSize    int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Fetch reads the queue and returns the due, unsent, approved messages,
// ordered by next retry time then id. A queue read error is returned;
// campaign or contact read errors degrade the batch instead.
func (r *QueueReader) Fetch(ctx context.Context) (*Batch, error) {
	now := r.now()

	pending, err := r.MessageRepo.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	candidates := make([]*model.QueuedMessage, 0, len(pending))
	for _, m := range pending {
		if !m.Pending() || !m.DueAt(now) || m.Delivered() {
			continue
		}
		candidates = append(candidates, m)
	}

	snap := &Snapshot{Campaigns: map[string]*model.Campaign{}, Contacts: map[string]*model.Contact{}}
	campaignsOK := true
	if campaigns, err := r.CampaignRepo.ListAll(ctx); err != nil {
		campaignsOK = false
		r.Logger.Error("campaign table unavailable, holding campaign messages",
			"component", "queue-reader",
			"error", err)
	} else {
		snap.Campaigns = campaigns
	}
	if contacts, err := r.ContactRepo.ListAll(ctx); err != nil {
		r.Logger.Warn("contact table unavailable, personalizing without contact data",
			"component", "queue-reader",
			"error", err)
	} else {
		snap.Contacts = contacts
	}

	batch := &Batch{Snapshot: snap}
	eligible := make([]*model.QueuedMessage, 0, len(candidates))
	for _, m := range candidates {
		if m.CampaignID == "" {
			eligible = append(eligible, m)
			continue
		}
		if !campaignsOK {
			continue
		}
		campaign := snap.Campaign(m.CampaignID)
		if !campaign.Approved() {
			r.holdUnapproved(ctx, m, campaign, now)
			batch.Deferred++
			continue
		}
		eligible = append(eligible, m)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		ta, tb := retryTime(a), retryTime(b)
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.ID < b.ID
	})

	batch.QueueSize = len(eligible)
	if r.BatchSize > 0 && len(eligible) > r.BatchSize {
		eligible = eligible[:r.BatchSize]
	}
	batch.Messages = eligible
	return batch, nil
}

// holdUnapproved pushes an unapproved campaign's message out without touching attempts.
func (r *QueueReader) holdUnapproved(ctx context.Context, m *model.QueuedMessage, campaign *model.Campaign, now time.Time) {
	status := "unknown"
	if campaign != nil {
		status = campaign.ApprovalStatus
	}
	next := r.Scheduler.NotApproved(now)
	m.NextRetryAt = &next
	m.LastError = appErrors.NewCampaignNotApproved(m.CampaignID, status).Error()

	if err := r.MessageRepo.Save(ctx, m, repository.ColNextRetryAt, repository.ColLastError); err != nil {
		r.Logger.Error("failed to reschedule unapproved message",
			"component", "queue-reader",
			"message_id", m.ID,
			"error", err)
		return
	}
	r.Logger.Info("campaign not approved, message rescheduled",
		"component", "queue-reader",
		"message_id", m.ID,
		"campaign_id", m.CampaignID,
		"approval_status", status,
		"next_retry_at", next)
}

func (r *QueueReader) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// retryTime sorts messages without a retry time first.
func retryTime(m *model.QueuedMessage) time.Time {
	if m.NextRetryAt == nil {
		return time.Time{}
	}
	return *m.NextRetryAt
}

