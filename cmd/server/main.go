// Package main runs the DupeGuard HTTP API.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/dupeguard/internal/app"
	"github.com/dharsanguruparan/dupeguard/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer deps.Close()

	log.Printf("dupeguard store=%s objects=%s sync_hash=%t", cfg.StoreBackend, cfg.ObjectBackend, cfg.SyncHash)
	if err := deps.Server(ctx).Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
