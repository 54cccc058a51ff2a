// Package metrics exports the worker's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_messages_total",
			Help: "Delivery pipeline outcomes by final state",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_send_duration_seconds",
			Help:    "Time spent in the transport send call",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_queue_eligible",
			Help: "Eligible messages seen by the last poll",
		},
	)

	globalRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_global_sends_in_window",
			Help: "Sends counted in the global rate window",
		},
	)

	cycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_cycle_errors_total",
			Help: "Worker cycles that failed to fetch a batch",
		},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_webhook_events_total",
			Help: "Provider webhook events applied, by event type",
		},
		[]string{"event"},
	)
)

func RecordOutcome(outcome string)    { messagesTotal.WithLabelValues(outcome).Inc() }
func ObserveSend(d time.Duration)     { sendDuration.Observe(d.Seconds()) }
func SetQueueSize(n int)              { queueSize.Set(float64(n)) }
func SetGlobalRate(n int)             { globalRate.Set(float64(n)) }
func RecordCycleError()               { cycleErrors.Inc() }
func RecordWebhookEvent(event string) { webhookEvents.WithLabelValues(event).Inc() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
