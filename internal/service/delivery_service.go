package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/idempotency"
	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/metrics"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/retry"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

// State is the terminal state of one pipeline run.
type State string

const (
	StateSent     State = "sent"
	StateSkipped  State = "skipped"
	StateRetrying State = "retrying"
	StateFailed   State = "failed"
)

// DryRunProviderPrefix marks provider ids recorded by dry-run sends.
const DryRunProviderPrefix = "dryrun-"

// Outcome is what happened to one message in one cycle.
type Outcome struct {
	MessageID         string
	CampaignID        string
	Recipient         string
	State             State
	Attempts          int
	NextRetryAt       *time.Time
	ProviderMessageID string
	Err               error
	At                time.Time
}

// ConsentChecker is satisfied by ConsentService.
type ConsentChecker interface {
	IsAllowed(ctx context.Context, addr string) bool
}

// DeliveryService runs one message through idempotency, rate, consent,
// personalization and transport, and persists the result.
type DeliveryService struct {
	MessageRepo  repository.MessageRepositoryInterface
	Consent      ConsentChecker
	Limiter      *ratelimit.Limiter
	Scheduler    *retry.Scheduler
	Personalizer *Personalizer
	// Transport is nil when the worker runs degraded.
	Transport transport.Transport
	Sink      *logging.Sink
	Metrics   *WorkerMetrics
	Logger    *slog.Logger
	DryRun    bool
	Now       func() time.Time
}

// Deliver never returns an error: every failure, panics included, ends up in the Outcome.
func (s *DeliveryService) Deliver(ctx context.Context, msg *model.QueuedMessage, snap *Snapshot) (out Outcome) {
	out = Outcome{MessageID: msg.ID, CampaignID: msg.CampaignID, Recipient: msg.Recipient}
	var held *ratelimit.Reservation

	defer func() {
		if r := recover(); r != nil {
			held.Cancel()
			out.State = StateFailed
			out.Err = fmt.Errorf("panic delivering message %s: %v", msg.ID, r)
			s.Logger.Error("pipeline panic",
				"component", "pipeline",
				"message_id", msg.ID,
				"panic", r)
			s.recordError(msg, out.Err)
		}
		if out.At.IsZero() {
			out.At = s.now()
		}
		out.Attempts = msg.Attempts
		out.NextRetryAt = msg.NextRetryAt
		out.ProviderMessageID = msg.ProviderMessageID
		s.Metrics.RecordOutcome(out.State)
		metrics.RecordOutcome(string(out.State))
	}()

	return s.deliver(ctx, msg, snap, &held)
}

// held tracks the rate slot until the transport call returns, so a panic
// before then gives it back.
func (s *DeliveryService) deliver(ctx context.Context, msg *model.QueuedMessage, snap *Snapshot, held **ratelimit.Reservation) Outcome {
	out := Outcome{MessageID: msg.ID, CampaignID: msg.CampaignID, Recipient: msg.Recipient}
	log := s.Logger.With("component", "pipeline", "message_id", msg.ID, "recipient", msg.Recipient)

	// KeyChecked
	if idempotency.AlreadySent(msg) {
		log.Info("message already sent, skipping", "provider_message_id", msg.ProviderMessageID)
		out.State = StateSkipped
		out.At = s.now()
		return out
	}

	// RateChecked
	reservation, ok := s.Limiter.Reserve(msg.Recipient)
	if !ok {
		now := s.now()
		next := s.Scheduler.RateLimited(now)
		err := appErrors.NewRateLimitExceeded(msg.Recipient, next.Sub(now))
		s.reschedule(ctx, msg, next, err)
		log.Info("rate limit reached, message rescheduled", "next_retry_at", next)
		out.State = StateRetrying
		out.Err = err
		out.At = now
		return out
	}
	*held = reservation

	// ConsentChecked
	if !s.Consent.IsAllowed(ctx, msg.Recipient) {
		reservation.Cancel()
		err := appErrors.NewConsentViolation(msg.Recipient)
		msg.Status = model.StatusFailed
		msg.NextRetryAt = nil
		msg.LastError = err.Error()
		s.save(ctx, msg, repository.ColStatus, repository.ColNextRetryAt, repository.ColLastError)
		s.Sink.Record(ctx, "consent", model.LogWarn, "send blocked for suppressed recipient", map[string]any{
			"message_id":  msg.ID,
			"campaign_id": msg.CampaignID,
			"recipient":   msg.Recipient,
		})
		s.recordError(msg, err)
		out.State = StateFailed
		out.Err = err
		out.At = s.now()
		return out
	}

	// Personalized
	email, err := s.Personalizer.Personalize(msg, snap.Campaign(msg.CampaignID), snap.Contact(msg.Recipient))
	if err != nil {
		reservation.Cancel()
		return s.fail(ctx, msg, err, false, log)
	}

	if s.Transport == nil && !s.DryRun {
		reservation.Cancel()
		return s.misconfigured(ctx, msg, appErrors.NewConfigurationError("transport", "no email transport configured"), log)
	}

	msg.Status = model.StatusSending
	if err := s.MessageRepo.Save(ctx, msg, repository.ColStatus); err != nil {
		reservation.Cancel()
		log.Error("failed to claim message, leaving it for the next cycle", "error", err)
		s.recordError(msg, err)
		out.State = StateRetrying
		out.Err = err
		out.At = s.now()
		return out
	}

	result := s.send(ctx, email, log)
	*held = nil
	if !result.Success {
		reservation.Cancel()
		if appErrors.IsConfiguration(result.Err) {
			return s.misconfigured(ctx, msg, result.Err, log)
		}
		return s.fail(ctx, msg, result.Err, result.Retryable, log)
	}

	// Sent
	now := s.now()
	msg.Status = model.StatusSent
	msg.ProviderMessageID = result.ProviderMessageID
	msg.SentAt = &now
	msg.IdempotencyKey = idempotency.ForMessage(msg)
	msg.Attempts++
	msg.LastError = ""
	msg.NextRetryAt = nil
	s.save(ctx, msg,
		repository.ColStatus,
		repository.ColProviderMessageID,
		repository.ColSentAt,
		repository.ColIdempotencyKey,
		repository.ColAttempts,
		repository.ColLastError,
		repository.ColNextRetryAt)

	log.Info("message sent",
		"provider_message_id", msg.ProviderMessageID,
		"attempts", msg.Attempts,
		"dry_run", s.DryRun)
	out.State = StateSent
	out.At = now
	return out
}

func (s *DeliveryService) send(ctx context.Context, email transport.Message, log *slog.Logger) transport.Result {
	if s.DryRun {
		log.Info("dry run, transport call skipped", "subject", email.Subject)
		return transport.Result{Success: true, ProviderMessageID: DryRunProviderPrefix + uuid.NewString()}
	}
	start := time.Now()
	result := s.Transport.Send(ctx, email)
	metrics.ObserveSend(time.Since(start))
	return result
}

// fail applies the retry policy to a failed attempt.
func (s *DeliveryService) fail(ctx context.Context, msg *model.QueuedMessage, cause error, retryable bool, log *slog.Logger) Outcome {
	now := s.now()
	out := Outcome{MessageID: msg.ID, CampaignID: msg.CampaignID, Recipient: msg.Recipient, Err: cause, At: now}

	d := s.Scheduler.OnFailure(msg.Attempts, retryable, now)
	msg.Attempts = d.Attempts
	msg.LastError = cause.Error()

	if d.Action == retry.Retry {
		next := d.NextRetryAt
		msg.Status = model.StatusQueued
		msg.NextRetryAt = &next
		s.save(ctx, msg, repository.ColStatus, repository.ColAttempts, repository.ColNextRetryAt, repository.ColLastError)
		log.Warn("send failed, retry scheduled",
			"attempts", msg.Attempts,
			"backoff", d.Delay,
			"next_retry_at", next,
			"error", cause)
		out.State = StateRetrying
		return out
	}

	msg.Status = model.StatusFailed
	msg.NextRetryAt = nil
	s.save(ctx, msg, repository.ColStatus, repository.ColAttempts, repository.ColNextRetryAt, repository.ColLastError)
	log.Error("send failed permanently",
		"attempts", msg.Attempts,
		"retryable", retryable,
		"error", cause)
	s.recordError(msg, cause)
	out.State = StateFailed
	return out
}

// misconfigured holds the message without spending an attempt.
func (s *DeliveryService) misconfigured(ctx context.Context, msg *model.QueuedMessage, cause error, log *slog.Logger) Outcome {
	now := s.now()
	next := s.Scheduler.Misconfigured(now)
	s.reschedule(ctx, msg, next, cause)
	s.Metrics.SetDegraded(true)
	log.Warn("transport misconfigured, message rescheduled", "next_retry_at", next, "error", cause)
	return Outcome{
		MessageID:  msg.ID,
		CampaignID: msg.CampaignID,
		Recipient:  msg.Recipient,
		State:      StateRetrying,
		Err:        cause,
		At:         now,
	}
}

func (s *DeliveryService) reschedule(ctx context.Context, msg *model.QueuedMessage, next time.Time, cause error) {
	msg.Status = model.StatusQueued
	msg.NextRetryAt = &next
	msg.LastError = cause.Error()
	s.save(ctx, msg, repository.ColStatus, repository.ColNextRetryAt, repository.ColLastError)
}

// save persists the given columns. Failures are logged and recorded, never returned.
func (s *DeliveryService) save(ctx context.Context, msg *model.QueuedMessage, columns ...string) {
	if err := s.MessageRepo.Save(ctx, msg, columns...); err != nil {
		s.Logger.Error("failed to persist message outcome",
			"component", "pipeline",
			"message_id", msg.ID,
			"status", msg.Status,
			"error", err)
		s.recordError(msg, err)
	}
}

func (s *DeliveryService) recordError(msg *model.QueuedMessage, err error) {
	s.Metrics.RecordError(ErrorRecord{
		At:        s.now(),
		MessageID: msg.ID,
		Recipient: msg.Recipient,
		Error:     err.Error(),
	})
}

func (s *DeliveryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
