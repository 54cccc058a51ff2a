// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/outreach-delivery/internal/config"
	"github.com/unclebandit/outreach-delivery/internal/controller"
	"github.com/unclebandit/outreach-delivery/internal/db"
	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/service"
	"github.com/unclebandit/outreach-delivery/internal/store"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Getenv("OUTREACH_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).With("service", "webhooks")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.Worker.Store == "memory" {
		st = store.NewMemoryStore()
	} else {
		conn, err := db.Open(ctx, cfg.Database.URL, db.DefaultOptions(), logger)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer conn.Close()
		st = store.NewPostgresStore(conn)
	}

	parser, err := transport.NewResendWebhooks(cfg.Resend.WebhookSecret)
	if err != nil {
		log.Fatalf("failed to build webhook parser: %v", err)
	}
	if cfg.Resend.WebhookSecret == "" {
		logger.Warn("no webhook secret configured, signatures are not verified")
	}

	sink := logging.NewSink(&repository.LogRepository{Store: st}, logger, nil)
	webhookService := &service.WebhookService{
		Parser:          parser,
		MessageRepo:     &repository.MessageRepository{Store: st},
		SuppressionRepo: &repository.SuppressionRepository{Store: st},
		Stats:           &service.StatsService{StatsRepo: &repository.StatsRepository{Store: st}, Logger: logger},
		Sink:            sink,
		Logger:          logger,
	}

	webhookController := &controller.WebhookController{
		Webhooks: webhookService,
		Logger:   logger,
	}

	r := chi.NewRouter()

	// Provider callbacks
	r.Post("/webhooks/resend", webhookController.ReceiveWebhook)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("webhook server running", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
