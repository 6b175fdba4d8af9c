package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"resonate/internal/config"
	"resonate/internal/core"
	"resonate/internal/daemon"
	"resonate/internal/dispatch"
	"resonate/internal/logging"
	"resonate/internal/metering"
	"resonate/internal/providers"
	"resonate/internal/reconcile"
	"resonate/internal/services/audioinfo"
	"resonate/internal/services/balance"
	"resonate/internal/services/catalog"
	"resonate/internal/services/storage"
	"resonate/internal/sweeper"
	"resonate/internal/tasks"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := tasks.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return
	}

	analyzer := audioinfo.NewClient(cfg.Pitch)
	ledger := balance.NewClient(cfg.Balance)
	voices := catalog.NewClient(cfg.Catalog)
	artifacts := storage.NewClient(cfg.Storage)

	submitter, err := providers.New(cfg)
	if err != nil {
		logger.Error("select inference backend", logging.Error(err))
		return
	}

	meter := metering.NewMeter(store, analyzer, ledger, cfg.Pricing.CoinsPerMinute, logger)
	dispatcher := dispatch.NewDispatcher(store, voices, meter, submitter, cfg.Webhook.PublicBaseURL, logger)

	notifier := reconcile.NewWebhookNotifier(time.Duration(cfg.Webhook.OutboundTimeout)*time.Second, logger)
	reconciler := reconcile.NewReconciler(store, artifacts, notifier, logger)

	pollers := map[providers.Kind]sweeper.Poller{
		providers.KindPrediction: providers.NewPredictionClient(cfg.ProviderA),
		providers.KindPod:        providers.NewPodClient(cfg.ProviderB),
	}
	sw := sweeper.New(
		store,
		pollers,
		reconciler,
		dispatcher,
		time.Duration(cfg.Sweeper.IntervalSeconds)*time.Second,
		time.Duration(cfg.Sweeper.ProcessingTimeoutSeconds)*time.Second,
		logger,
	)

	service := core.NewService(store, dispatcher, reconciler, logger)

	d, err := daemon.New(cfg, store, service, sw, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("resonated shutting down")
}
