package model

import "time"

// Webhook event kinds reported by the email provider.
const (
	EventDelivered    = "delivered"
	EventOpened       = "opened"
	EventClicked      = "clicked"
	EventBounced      = "bounced"
	EventComplained   = "complained"
	EventUnsubscribed = "unsubscribed"
)

type WebhookEvent struct {
	Event     string    `json:"event"`
	MessageID string    `json:"message_id"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Health statuses written to the logs table.
const (
	LogPass  = "PASS"
	LogWarn  = "WARN"
	LogInfo  = "INFO"
	LogError = "ERROR"
)

// LogEntry is one row of the append-only observability sink.
type LogEntry struct {
	ID        string         `db:"id" json:"id"`
	Timestamp time.Time      `db:"timestamp" json:"timestamp"`
	Component string         `db:"component" json:"component"`
	Status    string         `db:"status" json:"status"`
	Message   string         `db:"message" json:"message"`
	Details   map[string]any `db:"details" json:"details,omitempty"`
}
