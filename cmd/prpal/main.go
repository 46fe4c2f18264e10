package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/klauern/pr-pal-sub000/internal/config"
	"github.com/klauern/pr-pal-sub000/internal/jobs"
	"github.com/klauern/pr-pal-sub000/internal/live"
	"github.com/klauern/pr-pal-sub000/internal/server"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.Load()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cipher, err := store.NewKeyCipher(cfg.SessionKey)
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}
	queries := store.NewQueries(db, cipher)

	queue := jobs.NewQueue(cfg.Workers, cfg.QueueSize)
	defer queue.Shutdown()

	srv := server.New(cfg, queries, live.NewHub(), queue)
	if err := srv.Listen(); err != nil {
		return err
	}

	return srv.Serve(ctx)
}
