// internal/controller/webhook_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/unclebandit/outreach-delivery/internal/transport"
)

// maxWebhookBody caps the payload read from the provider.
const maxWebhookBody = 1 << 20

// WebhookHandler is satisfied by service.WebhookService.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, headers http.Header) (int, error)
}

type WebhookController struct {
	Webhooks WebhookHandler
	Logger   *slog.Logger
}

// ReceiveWebhook verifies and applies a provider event delivery. Signature
// failures answer 401 so the provider does not retry a forged request;
// apply failures answer 500 so it does.
func (c *WebhookController) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	n, err := c.Webhooks.Handle(r.Context(), payload, r.Header)
	switch {
	case errors.Is(err, transport.ErrMissingSignature),
		errors.Is(err, transport.ErrInvalidSignature),
		errors.Is(err, transport.ErrStaleTimestamp):
		c.Logger.Warn("webhook rejected", "component", "webhook", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	case err != nil && n == 0:
		c.Logger.Warn("webhook payload not understood", "component", "webhook", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	case err != nil:
		c.Logger.Error("webhook events not fully applied", "component", "webhook", "events", n, "error", err)
		http.Error(w, "failed to apply events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"received": n,
	})
}
