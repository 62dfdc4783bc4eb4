// Package processing runs fingerprint work in-process on a small goroutine
// pool. It stands in for the asynq worker when the service runs without
// Redis (memory and SQLite backends).
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
	"github.com/dharsanguruparan/dupeguard/internal/worker"
)

// ErrQueueFull is returned by Dispatch when the buffer has no room.
var ErrQueueFull = errors.New("processing queue full")

const (
	busyRetries = 3
	busyBackoff = 250 * time.Millisecond
)

var _ queue.Dispatcher = (*Pool)(nil)

// Pool consumes fingerprint jobs with a fixed number of goroutines.
type Pool struct {
	ingest  worker.Fingerprinter
	jobs    chan queue.FingerprintPayload
	workers int
	logger  *slog.Logger
	wg      sync.WaitGroup
	// backoff is the first wait after a busy owner; it grows linearly.
	backoff time.Duration
}

// New builds a Pool with queue capacity tied to worker count.
func New(svc worker.Fingerprinter, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		ingest:  svc,
		jobs:    make(chan queue.FingerprintPayload, workers*4),
		workers: workers,
		logger:  logger,
		backoff: busyBackoff,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Dispatch queues a job. When the buffer is full it returns ErrQueueFull and
// the caller discards the upload.
func (p *Pool) Dispatch(ctx context.Context, payload queue.FingerprintPayload) error {
	select {
	case p.jobs <- payload:
		return nil
	default:
		p.logger.Warn("processor queue full, dropping job", "document_id", payload.DocumentID)
		return fmt.Errorf("%w: document %s", ErrQueueFull, payload.DocumentID)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			p.process(ctx, job)
		}
	}
}

// process retries a busy owner a few times with a growing wait; the
// in-process pool has no scheduler to push the job back to.
func (p *Pool) process(ctx context.Context, job queue.FingerprintPayload) {
	var err error
	for attempt := 0; ; attempt++ {
		_, err = p.ingest.Fingerprint(ctx, job.DocumentID)
		if !errors.Is(err, dedupe.ErrOwnerBusy) || attempt == busyRetries {
			break
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("fingerprint abandoned", "document_id", job.DocumentID, "error", ctx.Err())
			return
		case <-time.After(p.backoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		p.logger.Error("fingerprint failed", "document_id", job.DocumentID, "error", err)
		return
	}
	p.logger.Debug("document fingerprinted", "document_id", job.DocumentID)
}
