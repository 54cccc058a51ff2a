package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/model"
)

// BreakerConfig tunes the circuit breaker around the provider.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "email-transport",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// Breaker stops calling the provider after a burst of transient failures.
// While open, sends fail fast as retryable so messages back off normally.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Transport, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("transport circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Send(ctx context.Context, msg Message) Result {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res := b.next.Send(ctx, msg)
		if !res.Success && res.Retryable {
			// only transient failures count against the provider
			return res, res.Err
		}
		return res, nil
	})
	if res, ok := out.(Result); ok {
		return res
	}
	return Result{Err: appErrors.NewTransientProviderError(err), Retryable: true}
}

func (b *Breaker) ParseWebhook(payload []byte, headers http.Header) ([]model.WebhookEvent, error) {
	return b.next.ParseWebhook(payload, headers)
}

// State exposes the breaker state for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

var _ Transport = (*Breaker)(nil)
