package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TopicEnqueued is published by the enqueue layer whenever new outreach lands in the queue table.
const TopicEnqueued = "outreach_enqueued"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers payloads to in-process subscribers with retry
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *slog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		logger:     logger.With("component", "memory-queue"),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		go q.processJob(handler, JobPayload{Payload: payload, MaxRetries: q.maxRetries})
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		q.logger.Warn("job failed", "attempt", job.RetryCount, "max_retries", job.MaxRetries, "error", err)
		if job.RetryCount > job.MaxRetries {
			q.logger.Error("job permanently failed", "attempts", job.RetryCount)
			return
		}
		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Waker turns queue notifications into a coalescing wake-up signal for the worker loop.
type Waker struct {
	ch chan struct{}
}

func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Notify requests a wake-up; pending requests collapse into one.
func (w *Waker) Notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C is closed over by the worker's sleep select.
func (w *Waker) C() <-chan struct{} {
	return w.ch
}

// Attach subscribes the waker to topic on q.
func (w *Waker) Attach(q Queue, topic string) error {
	return q.Subscribe(topic, func(any) error {
		w.Notify()
		return nil
	})
}
