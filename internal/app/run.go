package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/dupeguard/internal/api"
	"github.com/dharsanguruparan/dupeguard/internal/config"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
	"github.com/dharsanguruparan/dupeguard/internal/worker"
)

// Server builds the HTTP API over the wired components. Fingerprint work
// is dispatched through StartDispatcher, so in-process workers stop with ctx.
func (a *App) Server(ctx context.Context) *api.Server {
	return api.New(api.Deps{
		Config:      a.Config,
		Store:       a.Store,
		Objects:     a.Objects,
		Fingerprint: a.Fingerprint,
		Ingest:      a.Ingest,
		Detector:    a.Detector,
		Registry:    a.Registry,
		Ledger:      a.Ledger,
		Dispatcher:  a.StartDispatcher(ctx),
	})
}

// RunWorker consumes fingerprint and event tasks until ctx is cancelled.
func (a *App) RunWorker(ctx context.Context) error {
	if !a.Config.UsesQueue() {
		return fmt.Errorf("worker needs the %s store; other backends fingerprint in-process", config.BackendPostgres)
	}
	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: a.Config.ProcessingPool,
		Queues:      queue.Queues(),
	})
	processor := worker.NewProcessor(a.Ingest, a.Events, a.Logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return server.Run(processor.Handler())
}
