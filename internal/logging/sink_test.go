package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

type recordingAppender struct {
	entries []model.LogEntry
	err     error
}

func (r *recordingAppender) Append(_ context.Context, entries ...model.LogEntry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entries...)
	return nil
}

func TestSinkRecordsToTableAndLog(t *testing.T) {
	var buf bytes.Buffer
	app := &recordingAppender{}
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	sink := NewSink(app, NewWithWriter(&buf, "info", "json"), func() time.Time { return at })

	sink.Record(context.Background(), "worker", model.LogWarn, "degraded", map[string]any{"reason": "no key"})

	require.Len(t, app.entries, 1)
	e := app.entries[0]
	assert.Equal(t, "worker", e.Component)
	assert.Equal(t, model.LogWarn, e.Status)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, "no key", e.Details["reason"])
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"reason":"no key"`)
}

func TestSinkSurvivesAppendFailure(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&recordingAppender{err: errors.New("down")}, NewWithWriter(&buf, "info", "text"), nil)

	sink.Record(context.Background(), "worker", model.LogInfo, "heartbeat", nil)
	assert.Contains(t, buf.String(), "failed to write log sink entry")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("Warning").String())
	assert.Equal(t, "INFO", ParseLevel("whatever").String())
}
