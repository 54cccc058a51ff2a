package service

import (
	"sync"
	"time"
)

// DefaultErrorBufferSize bounds the error ring buffer exposed on the metrics surface.
const DefaultErrorBufferSize = 50

// ErrorRecord is one entry of the error ring buffer.
type ErrorRecord struct {
	At        time.Time `json:"at"`
	MessageID string    `json:"message_id,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Error     string    `json:"error"`
}

// MetricsSnapshot is the read-only view served to dashboards.
type MetricsSnapshot struct {
	LastRunAt       *time.Time    `json:"last_run_at,omitempty"`
	MessagesSent    int64         `json:"messages_sent"`
	MessagesFailed  int64         `json:"messages_failed"`
	MessagesSkipped int64         `json:"messages_skipped"`
	MessagesRetried int64         `json:"messages_retried"`
	CurrentRate     int           `json:"current_rate"`
	QueueSize       int           `json:"queue_size"`
	Degraded        bool          `json:"degraded"`
	LastFetchError  string        `json:"last_fetch_error,omitempty"`
	RecentErrors    []ErrorRecord `json:"recent_errors"`
}

// WorkerMetrics is process-local and reset only on restart.
type WorkerMetrics struct {
	mu sync.RWMutex

	lastRunAt      time.Time
	sent           int64
	failed         int64
	skipped        int64
	retried        int64
	currentRate    int
	queueSize      int
	degraded       bool
	lastFetchError string

	errors []ErrorRecord
	next   int
	full   bool
}

func NewWorkerMetrics(bufferSize int) *WorkerMetrics {
	if bufferSize <= 0 {
		bufferSize = DefaultErrorBufferSize
	}
	return &WorkerMetrics{errors: make([]ErrorRecord, bufferSize)}
}

// RecordOutcome bumps the counter matching the outcome's state.
func (m *WorkerMetrics) RecordOutcome(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch state {
	case StateSent:
		m.sent++
	case StateFailed:
		m.failed++
	case StateSkipped:
		m.skipped++
	case StateRetrying:
		m.retried++
	}
}

// RecordError appends to the ring buffer, overwriting the oldest entry when full.
func (m *WorkerMetrics) RecordError(rec ErrorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[m.next] = rec
	m.next = (m.next + 1) % len(m.errors)
	if m.next == 0 {
		m.full = true
	}
}

func (m *WorkerMetrics) MarkRun(at time.Time, queueSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRunAt = at
	m.queueSize = queueSize
	m.lastFetchError = ""
}

func (m *WorkerMetrics) MarkFetchError(at time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRunAt = at
	m.lastFetchError = err.Error()
}

func (m *WorkerMetrics) SetCurrentRate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentRate = n
}

func (m *WorkerMetrics) SetDegraded(degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = degraded
}

// Snapshot copies the current values; recent errors are ordered oldest first.
func (m *WorkerMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		MessagesSent:    m.sent,
		MessagesFailed:  m.failed,
		MessagesSkipped: m.skipped,
		MessagesRetried: m.retried,
		CurrentRate:     m.currentRate,
		QueueSize:       m.queueSize,
		Degraded:        m.degraded,
		LastFetchError:  m.lastFetchError,
		RecentErrors:    []ErrorRecord{},
	}
	if !m.lastRunAt.IsZero() {
		t := m.lastRunAt
		snap.LastRunAt = &t
	}
	if m.full {
		snap.RecentErrors = append(snap.RecentErrors, m.errors[m.next:]...)
	}
	snap.RecentErrors = append(snap.RecentErrors, m.errors[:m.next]...)
	return snap
}
