package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

var (
	ErrMissingSignature = errors.New("webhook: missing signature headers")
	ErrInvalidSignature = errors.New("webhook: signature mismatch")
	ErrStaleTimestamp   = errors.New("webhook: timestamp outside tolerance")
)

const webhookTolerance = 5 * time.Minute

// WebhookVerifier checks Svix-style signatures, the scheme Resend signs webhooks with.
type WebhookVerifier struct {
	key []byte
	now func() time.Time
}

func NewWebhookVerifier(secret string, now func() time.Time) (*WebhookVerifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("webhook: invalid signing secret: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &WebhookVerifier{key: key, now: now}, nil
}

func (v *WebhookVerifier) Verify(payload []byte, headers http.Header) error {
	id := headers.Get("svix-id")
	ts := headers.Get("svix-timestamp")
	sigs := headers.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	if d := v.now().Sub(time.Unix(sec, 0)); d > webhookTolerance || d < -webhookTolerance {
		return ErrStaleTimestamp
	}

	expected := v.Sign(id, ts, payload)
	for _, candidate := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign computes the base64 v1 signature for a payload.
func (v *WebhookVerifier) Sign(id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type resendEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      struct {
		EmailID      string          `json:"email_id"`
		To           json.RawMessage `json:"to"`
		Email        string          `json:"email"`
		Unsubscribed bool            `json:"unsubscribed"`
		Bounce       *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"bounce"`
	} `json:"data"`
}

var resendEventKinds = map[string]string{
	"email.delivered":  model.EventDelivered,
	"email.opened":     model.EventOpened,
	"email.clicked":    model.EventClicked,
	"email.bounced":    model.EventBounced,
	"email.complained": model.EventComplained,
}

// ParseResendEvent decodes one Resend webhook body. Event types the worker
// does not track yield no events.
func ParseResendEvent(payload []byte) ([]model.WebhookEvent, error) {
	var ev resendEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("webhook: invalid payload: %w", err)
	}

	out := model.WebhookEvent{
		MessageID: ev.Data.EmailID,
		Email:     firstRecipient(ev.Data.To),
		Timestamp: ev.CreatedAt,
	}
	if out.Email == "" {
		out.Email = ev.Data.Email
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}

	switch {
	case ev.Type == "contact.updated" && ev.Data.Unsubscribed:
		out.Event = model.EventUnsubscribed
	case resendEventKinds[ev.Type] != "":
		out.Event = resendEventKinds[ev.Type]
	default:
		return []model.WebhookEvent{}, nil
	}
	if ev.Data.Bounce != nil {
		out.Reason = strings.TrimSpace(ev.Data.Bounce.Type + " " + ev.Data.Bounce.Message)
	}
	return []model.WebhookEvent{out}, nil
}

// firstRecipient accepts both a list and a single string for "to".
func firstRecipient(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one
	}
	return ""
}

// WebhookParser verifies and decodes provider webhook deliveries.
type WebhookParser interface {
	ParseWebhook(payload []byte, headers http.Header) ([]model.WebhookEvent, error)
}

// ResendWebhooks parses Resend webhooks. It needs no API key, so the webhook
// server can run where the sender is not configured. Without a secret,
// payloads are accepted unverified.
type ResendWebhooks struct {
	verifier *WebhookVerifier
}

func NewResendWebhooks(secret string) (*ResendWebhooks, error) {
	w := &ResendWebhooks{}
	if secret == "" {
		return w, nil
	}
	v, err := NewWebhookVerifier(secret, nil)
	if err != nil {
		return nil, err
	}
	w.verifier = v
	return w, nil
}

func (w *ResendWebhooks) ParseWebhook(payload []byte, headers http.Header) ([]model.WebhookEvent, error) {
	if w.verifier != nil {
		if err := w.verifier.Verify(payload, headers); err != nil {
			return nil, err
		}
	}
	return ParseResendEvent(payload)
}
