// internal/model/queued_message.go
package model

import "time"

const (
	StatusQueued     = "queued"
	StatusSending    = "sending"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusBounced    = "bounced"
	StatusComplained = "complained"
)

// QueuedMessage is one outreach email waiting in (or drained from) the queue table.
type QueuedMessage struct {
	ID                string     `db:"id" json:"id"`
	CampaignID        string     `db:"campaign_id" json:"campaign_id,omitempty"`
	SequenceStep      int        `db:"sequence_step" json:"sequence_step"`
	Recipient         string     `db:"recipient" json:"recipient"`
	Subject           string     `db:"subject" json:"subject"`
	Body              string     `db:"body" json:"body"`
	Status            string     `db:"status" json:"status"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	NextRetryAt       *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	Attempts          int        `db:"attempts" json:"attempts"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	IdempotencyKey    string     `db:"idempotency_key" json:"idempotency_key,omitempty"`
}

// Pending reports whether the message is in a state the worker may pick up.
func (m *QueuedMessage) Pending() bool {
	return m.Status == StatusQueued || m.Status == StatusSending
}

// DueAt reports whether the retry time has passed (or was never set).
func (m *QueuedMessage) DueAt(now time.Time) bool {
	return m.NextRetryAt == nil || !m.NextRetryAt.After(now)
}

// Delivered reports whether the transport has accepted the message already.
func (m *QueuedMessage) Delivered() bool {
	return m.ProviderMessageID != "" || m.SentAt != nil
}
