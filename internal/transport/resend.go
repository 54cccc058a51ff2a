package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/resend/resend-go/v3"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/model"
)

// ResendConfig holds Resend provider settings.
type ResendConfig struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// Resend delivers through the Resend API.
type Resend struct {
	client   *resend.Client
	webhooks *ResendWebhooks
}

// NewResend returns a ConfigurationError when no API key is configured.
func NewResend(cfg ResendConfig) (*Resend, error) {
	if cfg.APIKey == "" {
		return nil, appErrors.NewConfigurationError("resend.api_key", "not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resend.NewCustomClient(&http.Client{Timeout: timeout}, cfg.APIKey)

	webhooks, err := NewResendWebhooks(cfg.WebhookSecret)
	if err != nil {
		return nil, err
	}
	return &Resend{client: client, webhooks: webhooks}, nil
}

func (r *Resend) Send(ctx context.Context, msg Message) Result {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
	}
	for name, value := range msg.Tags {
		req.Tags = append(req.Tags, resend.Tag{Name: name, Value: value})
	}

	resp, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return Failure(fmt.Errorf("resend: %w", err))
	}
	if resp == nil || resp.Id == "" {
		return Failure(fmt.Errorf("resend: empty response id"))
	}
	return Result{Success: true, ProviderMessageID: resp.Id}
}

func (r *Resend) ParseWebhook(payload []byte, headers http.Header) ([]model.WebhookEvent, error) {
	return r.webhooks.ParseWebhook(payload, headers)
}

var _ Transport = (*Resend)(nil)
