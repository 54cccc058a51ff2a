package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/metrics"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

// WebhookService applies provider delivery events to the queue, stats and
// suppression tables.
type WebhookService struct {
	Parser          transport.WebhookParser
	MessageRepo     repository.MessageRepositoryInterface
	SuppressionRepo repository.SuppressionRepositoryInterface
	Stats           *StatsService
	Sink            *logging.Sink
	Logger          *slog.Logger
	Now             func() time.Time
}

// Handle parses a webhook delivery and applies every event in it. Parse and
// signature errors are returned untouched; apply errors are joined.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, headers http.Header) (int, error) {
	events, err := s.Parser.ParseWebhook(payload, headers)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, ev := range events {
		if err := s.Apply(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return len(events), errors.Join(errs...)
}

// Apply records one event. Events for unknown provider ids are logged and
// dropped, except consent events carrying an address: those still suppress it.
//
// Unsubscribes add a suppression record and bump stats but leave the
// message status alone; bounces and complaints change the status.
func (s *WebhookService) Apply(ctx context.Context, ev model.WebhookEvent) error {
	log := s.Logger.With("component", "webhook", "event", ev.Event, "provider_message_id", ev.MessageID)
	metrics.RecordWebhookEvent(ev.Event)

	var msg *model.QueuedMessage
	if ev.MessageID != "" {
		var err error
		msg, err = s.MessageRepo.GetByProviderID(ctx, ev.MessageID)
		if err != nil {
			return fmt.Errorf("failed to look up message for %s event: %w", ev.Event, err)
		}
	}
	if msg == nil {
		if reason, ok := consentReasons[ev.Event]; ok && ev.Email != "" {
			return s.suppress(ctx, ev.Email, reason, s.eventTime(ev), nil)
		}
		log.Warn("webhook event for unknown message ignored")
		return nil
	}

	at := s.eventTime(ev)
	email := ev.Email
	if email == "" {
		email = msg.Recipient
	}

	switch ev.Event {
	case model.EventDelivered:
		log.Info("message delivered", "message_id", msg.ID)
		return nil

	case model.EventOpened:
		return s.Stats.Increment(ctx, msg.CampaignID, at, model.StatOpened)

	case model.EventClicked:
		return s.Stats.Increment(ctx, msg.CampaignID, at, model.StatClicked)

	case model.EventBounced:
		msg.Status = model.StatusBounced
		if ev.Reason != "" {
			msg.LastError = ev.Reason
		}
		if err := s.MessageRepo.Save(ctx, msg, repository.ColStatus, repository.ColLastError); err != nil {
			return fmt.Errorf("failed to mark message %s bounced: %w", msg.ID, err)
		}
		log.Warn("message bounced", "message_id", msg.ID, "reason", ev.Reason)
		return s.Stats.Increment(ctx, msg.CampaignID, at, model.StatBounced)

	case model.EventComplained:
		msg.Status = model.StatusComplained
		if err := s.MessageRepo.Save(ctx, msg, repository.ColStatus); err != nil {
			return fmt.Errorf("failed to mark message %s complained: %w", msg.ID, err)
		}
		return s.suppress(ctx, email, model.SuppressionComplaint, at, msg)

	case model.EventUnsubscribed:
		if err := s.suppress(ctx, email, model.SuppressionUnsubscribe, at, msg); err != nil {
			return err
		}
		return s.Stats.Increment(ctx, msg.CampaignID, at, model.StatUnsubscribed)

	default:
		log.Debug("unhandled webhook event")
		return nil
	}
}

// consentReasons maps the events that revoke consent to their suppression reason.
var consentReasons = map[string]string{
	model.EventComplained:   model.SuppressionComplaint,
	model.EventUnsubscribed: model.SuppressionUnsubscribe,
}

// suppress adds email to the suppression list. msg may be nil when the event
// named only an address.
func (s *WebhookService) suppress(ctx context.Context, email, reason string, at time.Time, msg *model.QueuedMessage) error {
	err := s.SuppressionRepo.Add(ctx, model.ConsentRecord{
		Email:     email,
		Reason:    reason,
		Source:    "webhook",
		CreatedAt: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to suppress %s: %w", email, err)
	}
	details := map[string]any{
		"recipient": email,
		"reason":    reason,
	}
	if msg != nil {
		details["message_id"] = msg.ID
		details["campaign_id"] = msg.CampaignID
	}
	s.Sink.Record(ctx, "consent", model.LogInfo, "recipient suppressed", details)
	return nil
}

func (s *WebhookService) eventTime(ev model.WebhookEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return s.now()
	}
	return ev.Timestamp
}

func (s *WebhookService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
