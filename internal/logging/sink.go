package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

// EntryAppender persists sink rows.
type EntryAppender interface {
	Append(ctx context.Context, entries ...model.LogEntry) error
}

// Sink mirrors health and audit events to slog and to the logs table.
// A failing table write is logged and otherwise ignored.
type Sink struct {
	appender EntryAppender
	logger   *slog.Logger
	now      func() time.Time
}

func NewSink(appender EntryAppender, logger *slog.Logger, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{appender: appender, logger: logger, now: now}
}

// Record is a no-op on a nil Sink.
func (s *Sink) Record(ctx context.Context, component, status, message string, details map[string]any) {
	if s == nil {
		return
	}
	attrs := []any{"component", component, "status", status}
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(ctx, levelFor(status), message, attrs...)

	if s.appender == nil {
		return
	}
	err := s.appender.Append(ctx, model.LogEntry{
		Timestamp: s.now().UTC(),
		Component: component,
		Status:    status,
		Message:   message,
		Details:   details,
	})
	if err != nil {
		s.logger.Warn("failed to write log sink entry", "component", component, "error", err)
	}
}

func levelFor(status string) slog.Level {
	switch status {
	case model.LogError:
		return slog.LevelError
	case model.LogWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
