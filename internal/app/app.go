// Package app builds the object graph shared by the server, the worker and
// the CLI from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/dupeguard/internal/config"
	"github.com/dharsanguruparan/dupeguard/internal/database"
	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/events"
	"github.com/dharsanguruparan/dupeguard/internal/fingerprint"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/lock"
	"github.com/dharsanguruparan/dupeguard/internal/processing"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
	"github.com/dharsanguruparan/dupeguard/internal/repository"
	"github.com/dharsanguruparan/dupeguard/internal/s3storage"
	"github.com/dharsanguruparan/dupeguard/internal/sqlitestore"
	"github.com/dharsanguruparan/dupeguard/internal/storage"
)

// Objects is the object storage contract every component needs.
type Objects interface {
	UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	OpenRaw(ctx context.Context, objectKey string) (io.ReadCloser, error)
	RemoveRaw(ctx context.Context, objectKey string) error
}

var (
	_ Objects = (*storage.BlobStore)(nil)
	_ Objects = (*s3storage.Storage)(nil)
)

// App holds the wired components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       dedupe.Store
	Events      events.Appender
	Objects     Objects
	Fingerprint fingerprint.Fingerprinter
	Ledger      *dedupe.Ledger
	Detector    *dedupe.Detector
	Registry    *dedupe.Registry
	Ingest      *ingest.Service
	// Queue is set when the config uses Redis.
	Queue       *asynq.Client
	RedisClient *redis.Client

	closers []func() error
}

// New connects every backend named by cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := fingerprint.ParseMode(cfg.Detection.FingerprintMode)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Fingerprint: fingerprint.New(mode)}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openObjects(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.UsesRedis() {
		opt := a.RedisOpt()
		a.Queue = asynq.NewClient(opt)
		a.closers = append(a.closers, a.Queue.Close)
		a.RedisClient = redis.NewClient(&redis.Options{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})
		a.closers = append(a.closers, a.RedisClient.Close)
	}
	sink, err := a.eventSink()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Ledger = dedupe.NewLedger(a.Store)
	a.Detector = dedupe.NewDetector(a.Store, a.Ledger, dedupe.DetectorConfig{
		CandidateLimit:      cfg.Detection.CandidateLimit,
		SimilarityThreshold: cfg.Detection.SimilarityThreshold,
		SimilarLimit:        cfg.Detection.SimilarLimit,
		Events:              sink,
		Logger:              logger,
	})
	a.Registry = dedupe.NewRegistry(a.Store, dedupe.RegistryConfig{Events: sink, Logger: logger})
	var ownerLock dedupe.OwnerLock
	if cfg.OwnerLock {
		ownerLock = lock.NewRedis(a.RedisClient)
	}
	a.Ingest = ingest.NewService(ingest.Config{
		Store:       a.Store,
		Objects:     a.Objects,
		Fingerprint: a.Fingerprint,
		Detector:    a.Detector,
		Registry:    a.Registry,
		Lock:        ownerLock,
		LockTTL:     cfg.OwnerLockTTL,
		Events:      sink,
		Logger:      logger,
	})
	return a, nil
}

// RedisOpt returns the asynq connection options for the configured Redis.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// StartDispatcher returns where upload fingerprint work goes: the Redis task
// queue when the config uses it, otherwise an in-process pool that runs
// until ctx is cancelled.
func (a *App) StartDispatcher(ctx context.Context) queue.Dispatcher {
	if a.Config.UsesQueue() {
		return queue.NewClient(a.Queue)
	}
	pool := processing.New(a.Ingest, a.Config.ProcessingPool, a.Logger)
	pool.Start(ctx)
	return pool
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.BackendPostgres:
		pool, err := database.Connect(ctx, a.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		s := repository.NewStore(pool)
		a.Store, a.Events = s, s
	case config.BackendSQLite:
		s, err := sqlitestore.Open(a.Config.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.Store, a.Events = s, s
	default:
		s := storage.NewMemoryStore()
		a.Store, a.Events = s, s
	}
	return nil
}

func (a *App) openObjects(ctx context.Context) error {
	if a.Config.ObjectBackend != config.ObjectsS3 {
		a.Objects = storage.NewBlobStore()
		return nil
	}
	s, err := s3storage.New(a.Config)
	if err != nil {
		return err
	}
	if err := s.EnsureBuckets(ctx); err != nil {
		return fmt.Errorf("ensure buckets: %w", err)
	}
	a.Objects = s
	return nil
}

func (a *App) eventSink() (dedupe.EventSink, error) {
	var sinks events.Multi
	for _, name := range a.Config.EventSinks {
		switch name {
		case "log":
			sinks = append(sinks, events.NewLogSink(a.Logger))
		case "store":
			sinks = append(sinks, events.NewStoreSink(a.Events))
		case "queue":
			sinks = append(sinks, events.NewQueueSink(a.Queue))
		case "none":
		default:
			return nil, fmt.Errorf("unknown event sink %q", name)
		}
	}
	switch len(sinks) {
	case 0:
		return events.Discard{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
