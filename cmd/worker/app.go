package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/outreach-delivery/internal/config"
	"github.com/unclebandit/outreach-delivery/internal/db"
	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/queue"
	"github.com/unclebandit/outreach-delivery/internal/ratelimit"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/retry"
	"github.com/unclebandit/outreach-delivery/internal/service"
	"github.com/unclebandit/outreach-delivery/internal/store"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

// app holds the wired worker and the pieces its HTTP surface reads.
type app struct {
	worker  *service.Worker
	metrics *service.WorkerMetrics
	bus     *queue.InMemoryQueue
}

// newApp wires the delivery pipeline. tr may be nil, in which case the
// worker runs degraded.
func newApp(cfg *config.Config, st store.Store, tr transport.Transport, degraded []error, logger *slog.Logger, now func() time.Time) (*app, error) {
	if now == nil {
		now = time.Now
	}

	messages := &repository.MessageRepository{Store: st}
	sink := logging.NewSink(&repository.LogRepository{Store: st}, logger, now)
	workerMetrics := service.NewWorkerMetrics(service.DefaultErrorBufferSize)
	workerMetrics.SetDegraded(len(degraded) > 0)

	limiter := ratelimit.New(ratelimit.Config{
		PerRecipientLimit:  cfg.Limits.PerRecipientHourlyLimit,
		PerRecipientWindow: time.Hour,
		GlobalLimit:        cfg.Limits.GlobalRequestsPerMinute,
		GlobalWindow:       time.Minute,
	}, now)

	scheduler := retry.NewScheduler(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Schedule:    retry.Seconds(cfg.Retry.Schedule),
	})

	pipeline := &service.DeliveryService{
		MessageRepo: messages,
		Consent: &service.ConsentService{
			SuppressionRepo: &repository.SuppressionRepository{Store: st},
			Logger:          logger,
		},
		Limiter:      limiter,
		Scheduler:    scheduler,
		Personalizer: service.NewPersonalizer(cfg.Sender.FromAddress, cfg.Sender.ReplyTo, cfg.Sender.UnsubscribeURL),
		Transport:    tr,
		Sink:         sink,
		Metrics:      workerMetrics,
		Logger:       logger,
		DryRun:       cfg.Worker.DryRun,
		Now:          now,
	}

	bus := queue.NewInMemoryQueue(logger)
	waker := queue.NewWaker()
	if err := waker.Attach(bus, queue.TopicEnqueued); err != nil {
		return nil, fmt.Errorf("failed to attach wake-up subscriber: %w", err)
	}

	w := &service.Worker{
		Reader: &service.QueueReader{
			MessageRepo:  messages,
			CampaignRepo: &repository.CampaignRepository{Store: st},
			ContactRepo:  &repository.ContactRepository{Store: st},
			Scheduler:    scheduler,
			BatchSize:    cfg.Worker.BatchSize,
			Logger:       logger,
			Now:          now,
		},
		Dispatcher: &service.Dispatcher{Pipeline: pipeline, Concurrency: cfg.Worker.Concurrency},
		Stats:      &service.StatsService{StatsRepo: &repository.StatsRepository{Store: st}, Logger: logger},
		Health: &service.HealthService{
			Sink:     sink,
			Metrics:  workerMetrics,
			Instance: cfg.Worker.Instance,
			Degraded: degraded,
		},
		Limiter:           limiter,
		Metrics:           workerMetrics,
		Logger:            logger,
		Instance:          cfg.Worker.Instance,
		IdleInterval:      cfg.IdleInterval(),
		ActiveInterval:    cfg.ActiveInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		RateSyncInterval:  cfg.RateSyncInterval(),
		Wake:              waker.C(),
		Now:               now,
	}

	return &app{worker: w, metrics: workerMetrics, bus: bus}, nil
}

// openStore returns the configured store and a cleanup func.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Worker.Store == "memory" {
		logger.Warn("using in-memory store; queue state is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}
	conn, err := db.Open(ctx, cfg.Database.URL, db.DefaultOptions(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return store.NewPostgresStore(conn), func() { conn.Close() }, nil
}

// openTransport builds the Resend transport behind a circuit breaker. A
// configuration problem is returned as degraded rather than fatal.
func openTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, []error) {
	degraded := cfg.Degraded()
	if cfg.Worker.DryRun {
		return nil, nil
	}
	resend, err := transport.NewResend(transport.ResendConfig{
		APIKey:        cfg.Resend.APIKey,
		WebhookSecret: cfg.Resend.WebhookSecret,
		Timeout:       cfg.ResendTimeout(),
	})
	if err != nil {
		logger.Warn("email transport unavailable, running degraded", "error", err)
		if len(degraded) == 0 {
			degraded = []error{err}
		}
		return nil, degraded
	}
	if len(degraded) > 0 {
		for _, d := range degraded {
			logger.Warn("worker configuration incomplete", "error", d)
		}
		return nil, degraded
	}
	return transport.NewBreaker(resend, transport.DefaultBreakerConfig(), logger), nil
}

// openSnapshotSink connects to Redis when configured. Failure only disables snapshots.
func openSnapshotSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.SnapshotSink, func()) {
	if cfg.Redis.URL == "" {
		return nil, func() {}
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("invalid redis url, rate snapshots disabled", "error", err)
		return nil, func() {}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, rate snapshots disabled", "error", err)
		client.Close()
		return nil, func() {}
	}
	ttl := 3 * cfg.RateSyncInterval()
	return ratelimit.NewRedisSnapshotSink(client, cfg.Redis.KeyPrefix, ttl), func() { client.Close() }
}
