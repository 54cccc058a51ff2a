package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/retry"
	"github.com/unclebandit/outreach-delivery/internal/store"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTransport succeeds unless a result is queued or respond is set.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []transport.Message
	results []transport.Result
	respond func(transport.Message) transport.Result
}

func (f *fakeTransport) Send(_ context.Context, msg transport.Message) transport.Result {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	var next *transport.Result
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		next = &r
	}
	respond := f.respond
	f.mu.Unlock()

	if next != nil {
		return *next
	}
	if respond != nil {
		return respond(msg)
	}
	return transport.Result{Success: true, ProviderMessageID: fmt.Sprintf("prov-%d", n)}
}

func (f *fakeTransport) ParseWebhook([]byte, http.Header) ([]model.WebhookEvent, error) {
	return nil, nil
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	store      *store.MemoryStore
	clock      *fakeClock
	transport  *fakeTransport
	messages   *repository.MessageRepository
	stats      *repository.StatsRepository
	limiter    *ratelimit.Limiter
	metrics    *WorkerMetrics
	pipeline   *DeliveryService
	dispatcher *Dispatcher
	reader     *QueueReader
	worker     *Worker
}

type harnessOptions struct {
	limits      ratelimit.Config
	concurrency int
	dryRun      bool
	degraded    bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	if opts.limits == (ratelimit.Config{}) {
		opts.limits = ratelimit.Config{PerRecipientLimit: 20, GlobalLimit: 1000}
	}
	if opts.concurrency == 0 {
		opts.concurrency = 3
	}

	st := store.NewMemoryStore()
	clock := &fakeClock{now: epoch}
	logger := logging.Discard()
	sink := logging.NewSink(&repository.LogRepository{Store: st}, logger, clock.Now)
	h := &harness{
		store:     st,
		clock:     clock,
		transport: &fakeTransport{},
		messages:  &repository.MessageRepository{Store: st},
		stats:     &repository.StatsRepository{Store: st},
		limiter:   ratelimit.New(opts.limits, clock.Now),
		metrics:   NewWorkerMetrics(DefaultErrorBufferSize),
	}
	scheduler := retry.NewScheduler(retry.DefaultConfig())

	h.pipeline = &DeliveryService{
		MessageRepo:  h.messages,
		Consent:      &ConsentService{SuppressionRepo: &repository.SuppressionRepository{Store: st}, Logger: logger},
		Limiter:      h.limiter,
		Scheduler:    scheduler,
		Personalizer: NewPersonalizer("sales@example.com", "", ""),
		Transport:    h.transport,
		Sink:         sink,
		Metrics:      h.metrics,
		Logger:       logger,
		DryRun:       opts.dryRun,
		Now:          clock.Now,
	}
	if opts.degraded {
		h.pipeline.Transport = nil
	}
	h.dispatcher = &Dispatcher{Pipeline: h.pipeline, Concurrency: opts.concurrency}
	h.reader = &QueueReader{
		MessageRepo:  h.messages,
		CampaignRepo: &repository.CampaignRepository{Store: st},
		ContactRepo:  &repository.ContactRepository{Store: st},
		Scheduler:    scheduler,
		BatchSize:    25,
		Logger:       logger,
		Now:          clock.Now,
	}
	h.worker = &Worker{
		Reader:     h.reader,
		Dispatcher: h.dispatcher,
		Stats:      &StatsService{StatsRepo: h.stats, Logger: logger},
		Health:     &HealthService{Sink: sink, Metrics: h.metrics, Instance: "test"},
		Limiter:    h.limiter,
		Metrics:    h.metrics,
		Logger:     logger,
		Instance:   "test",
		Now:        clock.Now,
	}
	return h
}

func (h *harness) addCampaign(t *testing.T, id, approval string) {
	t.Helper()
	require.NoError(t, h.store.AppendRows(context.Background(), store.TableCampaigns, []store.Row{
		{"id": id, "name": "Campaign " + id, "approval_status": approval},
	}))
}

func (h *harness) suppress(t *testing.T, addr string) {
	t.Helper()
	require.NoError(t, (&repository.SuppressionRepository{Store: h.store}).Add(context.Background(),
		model.ConsentRecord{Email: addr, Reason: model.SuppressionManual, Source: "test"}))
}

func (h *harness) enqueue(t *testing.T, msgs ...*model.QueuedMessage) {
	t.Helper()
	require.NoError(t, h.messages.Enqueue(context.Background(), msgs...))
}

func (h *harness) get(t *testing.T, id string) *model.QueuedMessage {
	t.Helper()
	msg, err := h.messages.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}

func (h *harness) logs(t *testing.T, component string) []store.Row {
	t.Helper()
	rows, err := h.store.ReadTable(context.Background(), store.TableLogs, store.Eq("component", component))
	require.NoError(t, err)
	return rows
}

func newMessage(id, campaignID, recipient string) *model.QueuedMessage {
	return &model.QueuedMessage{
		ID:         id,
		CampaignID: campaignID,
		Recipient:  recipient,
		Subject:    "Hello {first_name|there}",
		Body:       "Quick note about {company|your team}.",
		Status:     model.StatusQueued,
	}
}
