// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-delivery/internal/config"
	"github.com/unclebandit/outreach-delivery/internal/handler"
	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/queue"
)

var (
	configPath string
	dryRun     bool
	once       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "outreach-worker",
		Short:        "Drain the outreach queue and deliver email",
		SilenceUsage: true,
		RunE:         runWorker,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML configuration file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run every check but skip the transport call")
	rootCmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Worker.DryRun = dryRun
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).With("instance", cfg.Worker.Instance)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tr, degraded := openTransport(cfg, logger)
	a, err := newApp(cfg, st, tr, degraded, logger, nil)
	if err != nil {
		return err
	}

	sink, closeRedis := openSnapshotSink(ctx, cfg, logger)
	defer closeRedis()
	a.worker.Snapshots = sink

	if once {
		_, err := a.worker.RunOnce(ctx)
		return err
	}

	if cfg.AMQP.URL != "" {
		consumer := queue.NewAMQPConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, a.bus, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Warn("amqp consumer stopped, falling back to polling", "error", err)
			}
		}()
	}

	r := chi.NewRouter()
	handler.NewWorkerHandler(a.metrics, cfg.Worker.Instance).Routes(r)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker starting",
		"concurrency", cfg.Worker.Concurrency,
		"batch_size", cfg.Worker.BatchSize,
		"dry_run", cfg.Worker.DryRun,
		"store", cfg.Worker.Store)
	return a.worker.Run(ctx)
}
