package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

// ErrMessageNotFound is returned when an update targets a message id absent from the queue table.
var ErrMessageNotFound = errors.New("queued message not found")

// Queue table columns.
const (
	ColID                = "id"
	ColCampaignID        = "campaign_id"
	ColSequenceStep      = "sequence_step"
	ColRecipient         = "recipient"
	ColSubject           = "subject"
	ColBody              = "body"
	ColStatus            = "status"
	ColProviderMessageID = "provider_message_id"
	ColSentAt            = "sent_at"
	ColNextRetryAt       = "next_retry_at"
	ColAttempts          = "attempts"
	ColLastError         = "last_error"
	ColIdempotencyKey    = "idempotency_key"
)

type MessageRepositoryInterface interface {
	ListPending(ctx context.Context) ([]*model.QueuedMessage, error)
	GetByID(ctx context.Context, id string) (*model.QueuedMessage, error)
	GetByProviderID(ctx context.Context, providerID string) (*model.QueuedMessage, error)
	Save(ctx context.Context, msg *model.QueuedMessage, columns ...string) error
	Enqueue(ctx context.Context, msgs ...*model.QueuedMessage) error
}

type MessageRepository struct {
	Store store.Store
}

// ListPending returns every queued or sending message; time and idempotency
// filtering is left to the caller.
func (r *MessageRepository) ListPending(ctx context.Context) ([]*model.QueuedMessage, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableQueue,
		store.In(ColStatus, model.StatusQueued, model.StatusSending))
	if err != nil {
		return nil, err
	}
	msgs := make([]*model.QueuedMessage, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, decodeMessage(row))
	}
	return msgs, nil
}

// GetByID returns nil, nil when the message does not exist.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.QueuedMessage, error) {
	return r.findOne(ctx, store.Eq(ColID, id))
}

// GetByProviderID looks a message up by the id the transport assigned to it.
func (r *MessageRepository) GetByProviderID(ctx context.Context, providerID string) (*model.QueuedMessage, error) {
	if providerID == "" {
		return nil, nil
	}
	return r.findOne(ctx, store.Eq(ColProviderMessageID, providerID))
}

func (r *MessageRepository) findOne(ctx context.Context, f store.Filter) (*model.QueuedMessage, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableQueue, f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeMessage(rows[0]), nil
}

// Save writes the named columns of msg as one row update.
func (r *MessageRepository) Save(ctx context.Context, msg *model.QueuedMessage, columns ...string) error {
	full := encodeMessage(msg)
	patch := store.Row{}
	for _, c := range columns {
		patch[c] = full[c]
	}
	ok, err := r.Store.UpdateRow(ctx, store.TableQueue, ColID, msg.ID, patch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, msg.ID)
	}
	return nil
}

// Enqueue appends messages to the queue table. The worker never calls it;
// the seeder and tests do.
func (r *MessageRepository) Enqueue(ctx context.Context, msgs ...*model.QueuedMessage) error {
	rows := make([]store.Row, 0, len(msgs))
	for _, m := range msgs {
		if m.Status == "" {
			m.Status = model.StatusQueued
		}
		rows = append(rows, encodeMessage(m))
	}
	return r.Store.AppendRows(ctx, store.TableQueue, rows)
}

func decodeMessage(row store.Row) *model.QueuedMessage {
	return &model.QueuedMessage{
		ID:                store.String(row, ColID),
		CampaignID:        store.String(row, ColCampaignID),
		SequenceStep:      store.Int(row, ColSequenceStep),
		Recipient:         store.String(row, ColRecipient),
		Subject:           store.String(row, ColSubject),
		Body:              store.String(row, ColBody),
		Status:            store.String(row, ColStatus),
		ProviderMessageID: store.String(row, ColProviderMessageID),
		SentAt:            store.Time(row, ColSentAt),
		NextRetryAt:       store.Time(row, ColNextRetryAt),
		Attempts:          store.Int(row, ColAttempts),
		LastError:         store.String(row, ColLastError),
		IdempotencyKey:    store.String(row, ColIdempotencyKey),
	}
}

func encodeMessage(m *model.QueuedMessage) store.Row {
	return store.Row{
		ColID:                m.ID,
		ColCampaignID:        m.CampaignID,
		ColSequenceStep:      m.SequenceStep,
		ColRecipient:         m.Recipient,
		ColSubject:           m.Subject,
		ColBody:              m.Body,
		ColStatus:            m.Status,
		ColProviderMessageID: m.ProviderMessageID,
		ColSentAt:            timeValue(m.SentAt),
		ColNextRetryAt:       timeValue(m.NextRetryAt),
		ColAttempts:          m.Attempts,
		ColLastError:         m.LastError,
		ColIdempotencyKey:    m.IdempotencyKey,
	}
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
