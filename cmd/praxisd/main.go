package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"praxis/internal/config"
	"praxis/internal/daemon"
	"praxis/internal/logging"
	"praxis/internal/notify"
	"praxis/internal/processor"
	"praxis/internal/queue"
	"praxis/internal/research"
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

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}

	client := research.NewClient(cfg.Research)
	notifier := notify.NewService(cfg)
	manager := processor.NewManager(cfg, store, logger, notifier, client)

	d, err := daemon.New(cfg, store, logger, manager)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		store.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("praxisd shutting down")
}
