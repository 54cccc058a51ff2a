package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

// LogRepository appends rows to the observability sink table.
type LogRepository struct {
	Store store.Store
}

func (r *LogRepository) Append(ctx context.Context, entries ...model.LogEntry) error {
	rows := make([]store.Row, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		details := e.Details
		if details == nil {
			details = map[string]any{}
		}
		rows = append(rows, store.Row{
			"id":        e.ID,
			"timestamp": e.Timestamp,
			"component": e.Component,
			"status":    e.Status,
			"message":   e.Message,
			"details":   details,
		})
	}
	return r.Store.AppendRows(ctx, store.TableLogs, rows)
}
