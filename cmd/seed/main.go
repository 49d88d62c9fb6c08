package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ariefcatur/bean-collective/internal/catalog"
	"github.com/ariefcatur/bean-collective/internal/config"
	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/postgres"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := config.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

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
	n, err := catalog.Seed(ctx, &orders.Repo{DB: db})
	if err != nil {
		log.Error("seed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("catalog seeded", slog.Int("beans", n))
}
