package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/bean-collective/internal/config"
	kafkax "github.com/ariefcatur/bean-collective/internal/kafka"
	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/postgres"
	"github.com/ariefcatur/bean-collective/internal/proposals"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := config.NewLogger(cfg).With(slog.String("component", "proposals"))
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", slog.Any("error", err))
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Orders created or settled here still fan out to Kafka and the live hubs.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	svc := &proposals.Service{
		Orders: &orders.Service{
			Store: &orders.Repo{DB: db},
			Notifier: &orders.EventPublisher{
				Sink:    prod,
				Redis:   rdb,
				Service: cfg.ServiceName + "-proposals",
				Log:     log,
			},
			BiddingDays: cfg.BiddingDays,
			Log:         log,
		},
		Redis: rdb,
		Name:  "proposals",
		Log:   log,
	}

	// Consumers
	subs := []struct {
		topic string
		h     kafkax.Handler
	}{
		{orders.TopicProposalPassed, svc.HandleProposalPassed},
		{orders.TopicOrderSettlement, svc.HandleOrderSettlement},
	}
	var wg sync.WaitGroup
	for _, s := range subs {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProposalsGroup, s.topic, cfg.ProposalsWorkers, log)
		wg.Add(1)
		go func(topic string, h kafkax.Handler) {
			defer wg.Done()
			log.Info("consumer started", slog.String("topic", topic),
				slog.String("group", cfg.ProposalsGroup), slog.Int("workers", cfg.ProposalsWorkers))
			if err := cons.Start(ctx, h); err != nil {
				log.Error("consumer exit", slog.String("topic", topic), slog.Any("error", err))
				cancel()
			}
		}(s.topic, s.h)
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumers")
	cancel()
	wg.Wait()
	prod.Close()
	prod.WaitClosed()
	if n := prod.Dropped(); n > 0 {
		log.Warn("kafka messages dropped", slog.Int64("count", n))
	}
}
