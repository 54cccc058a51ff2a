package queue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/logging"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	q := NewInMemoryQueue(logging.Discard())
	assert.Error(t, q.Publish(TopicEnqueued, "x"))
}

func TestPublishRetriesFailingHandler(t *testing.T) {
	q := NewInMemoryQueue(logging.Discard())
	q.backoff = time.Millisecond

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Subscribe("t", func(any) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		close(done)
		return nil
	}))
	require.NoError(t, q.Publish("t", 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestWakerCoalesces(t *testing.T) {
	w := NewWaker()
	w.Notify()
	w.Notify()
	w.Notify()

	<-w.C()
	select {
	case <-w.C():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestWakerAttach(t *testing.T) {
	q := NewInMemoryQueue(logging.Discard())
	w := NewWaker()
	require.NoError(t, w.Attach(q, TopicEnqueued))
	require.NoError(t, q.Publish(TopicEnqueued, "msg-1"))

	select {
	case <-w.C():
	case <-time.After(time.Second):
		t.Fatal("waker not notified")
	}
}
