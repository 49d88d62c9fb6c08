package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/bean-collective/internal/catalog"
	"github.com/ariefcatur/bean-collective/internal/config"
	"github.com/ariefcatur/bean-collective/internal/httpx"
	kafkax "github.com/ariefcatur/bean-collective/internal/kafka"
	"github.com/ariefcatur/bean-collective/internal/live"
	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/postgres"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := config.NewLogger(cfg)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.StoreMemory:
		store = orders.NewMemoryStore(catalog.Beans()...)
		log.Warn("using in-memory store; data is lost on restart")
	default:
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
		store = &orders.Repo{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	svc := &orders.Service{
		Store: store,
		Notifier: &orders.EventPublisher{
			Sink:    prod,
			Redis:   rdb,
			Service: cfg.ServiceName,
			Log:     log,
		},
		BiddingDays: cfg.BiddingDays,
		Log:         log,
	}

	// Live totals: Redis pub/sub -> hub -> websocket clients
	hub := live.NewHub(log)
	go hub.Run(ctx)
	if relay, err := live.Subscribe(ctx, rdb, log); err != nil {
		log.Warn("live relay disabled", slog.Any("error", err))
	} else {
		go relay.Run(ctx, hub)
	}

	router := httpx.NewRouter(log)
	(&httpx.BeansHandler{Service: svc, Log: log}).Register(router)
	(&httpx.OrdersHandler{Service: svc, Redis: rdb, Timeout: cfg.RequestTimeout, Log: log}).Register(router)
	(&live.Handler{Hub: hub, Service: svc, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	cancel()          // stop hub and relay
	prod.Close()      // flush what is queued
	prod.WaitClosed() // drain
	if n := prod.Dropped(); n > 0 {
		log.Warn("kafka messages dropped", slog.Int64("count", n))
	}
}
