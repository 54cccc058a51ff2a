// Package transport sends outreach email through a pluggable provider and
// parses the provider's delivery webhooks.
package transport

import (
	"context"
	"net/http"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

// Message is a fully personalized email ready for the provider.
type Message struct {
	To       string
	From     string
	ReplyTo  string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
	Tags     map[string]string
}

// Result is the outcome of one send. Retryable is meaningful only when Success is false.
type Result struct {
	Success           bool
	ProviderMessageID string
	Err               error
	Retryable         bool
}

type Transport interface {
	Send(ctx context.Context, msg Message) Result
	ParseWebhook(payload []byte, headers http.Header) ([]model.WebhookEvent, error)
}
