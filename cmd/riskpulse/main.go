package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"riskpulse/internal/api"
	"riskpulse/internal/config"
	"riskpulse/internal/ingest"
	"riskpulse/internal/logging"
	"riskpulse/internal/metrics"
	"riskpulse/internal/session"
	"riskpulse/internal/storage"
)

var version = "dev"

var (
	configPath = flag.String("config", "", "Path to a YAML or JSON config file")
	autostart  = flag.Bool("autostart", false, "Start the session immediately")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "riskpulse:", err)
		os.Exit(1)
	}
}

func run() error {
	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config_path", mgr.Path(), "source", cfg.Source.Driver)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	journal, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var sessionJournal session.Journal
	if journal != nil {
		if err := journal.Init(ctx); err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer journal.Close()
		sessionJournal = journal
		logger.Info("journal enabled", "driver", cfg.Storage.Driver)
	}

	recorder := metrics.NewRecorder()
	source, ingestHandler := buildSource(ctx, cfg, logger)

	ctrl := session.New(session.Options{
		SessionID:    cfg.Session.ID,
		Context:      cfg.Session.Context.SessionContext(),
		TickInterval: cfg.Session.TickInterval,
		HistoryLimit: cfg.Session.HistoryLimit,
		AlertLimit:   cfg.Session.AlertLimit,
		DedupeWindow: cfg.Session.DedupeWindow,
		Rand:         seeded(cfg.Session.Seed, 0),
		Source:       source,
		Journal:      sessionJournal,
		Recorder:     recorder,
		Logger:       logger,
	})
	defer ctrl.Close()

	stop := make(chan struct{})
	defer close(stop)
	go mgr.Watch(0, func(next *config.Config) {
		logger.Info("config reloaded", "path", mgr.Path())
		if err := ctrl.SetContext(next.Session.Context.SessionContext()); err != nil {
			logger.Warn("context not applied", "err", err)
		}
	}, func(err error) {
		logger.Warn("config watch failed", "err", err)
	}, stop)

	httpServer := api.Start(ctx, api.Options{
		Config:  mgr,
		Session: ctrl,
		Metrics: recorder.Handler(),
		Ingest:  ingestHandler,
		Logger:  logger,
		Version: version,
	})
	if httpServer == nil && !*autostart {
		logger.Warn("api disabled and autostart off; session will stay idle")
	}

	if *autostart {
		if err := ctrl.Start(); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := ctrl.Stop(); err != nil && !errors.Is(err, session.ErrSessionIdle) {
		logger.Warn("session stop failed", "err", err)
	}
	return nil
}

// buildSource picks the signal source for the configured driver. Only the
// rest driver exposes an ingest handler.
func buildSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ingest.Source, http.Handler) {
	id := cfg.Session.ID
	switch cfg.Source.Driver {
	case config.SourceKafka:
		q := ingest.NewQueue(cfg.Source.Buffer, logger)
		ingest.StartKafka(ctx, cfg.Source.Kafka, id, q, logger)
		return q, nil
	case config.SourceFile:
		q := ingest.NewQueue(cfg.Source.Buffer, logger)
		ingest.StartFileReplay(ctx, cfg.Source.File, id, q, logger)
		return q, nil
	case config.SourceREST:
		q := ingest.NewQueue(cfg.Source.Buffer, logger)
		return q, ingest.NewRESTHandler(q, id, logger)
	default:
		return ingest.NewGenerator(id, seeded(cfg.Session.Seed, 1), nil), nil
	}
}

// seeded returns a reproducible source for a non-zero seed and nil otherwise.
func seeded(seed, stream uint64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, stream))
}
