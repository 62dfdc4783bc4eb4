// Package worker holds the asynq handlers run by cmd/worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/events"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
)

// Fingerprinter hashes and scans one stored document. ingest.Service
// implements it.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, documentID string) (*ingest.Outcome, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	ingest Fingerprinter
	events events.Appender
	logger *slog.Logger
}

// NewProcessor constructs a worker processor. appender may be nil, in which
// case event tasks are only logged.
func NewProcessor(svc Fingerprinter, appender events.Appender, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{ingest: svc, events: appender, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.FingerprintDocumentTask, p.handleFingerprint)
	mux.HandleFunc(queue.RecordEventTask, p.handleEvent)
	return mux
}

func (p *Processor) handleFingerprint(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseFingerprint(task)
	if err != nil {
		return err
	}
	out, err := p.ingest.Fingerprint(ctx, payload.DocumentID)
	switch {
	case err == nil:
	case errors.Is(err, dedupe.ErrNotFound), errors.Is(err, dedupe.ErrInvalidInput):
		// Deleted before we ran, or nothing to hash. Retrying cannot help.
		p.logger.Warn("fingerprint skipped", "document_id", payload.DocumentID, "error", err)
		return fmt.Errorf("fingerprint %s: %v: %w", payload.DocumentID, err, asynq.SkipRetry)
	case errors.Is(err, dedupe.ErrOwnerBusy):
		p.logger.Info("owner busy, retrying later", "document_id", payload.DocumentID, "owner_id", payload.OwnerID)
		return err
	default:
		p.logger.Error("fingerprint failed", "document_id", payload.DocumentID, "error", err)
		return err
	}
	p.logger.Info("document fingerprinted",
		"document_id", payload.DocumentID,
		"exact", len(out.Result.Exact),
		"similar", len(out.Result.Similar),
		"relationships", len(out.Relationships),
	)
	return nil
}

func (p *Processor) handleEvent(ctx context.Context, task *asynq.Task) error {
	ev, err := queue.ParseEvent(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if p.events == nil {
		return events.NewLogSink(p.logger).Emit(ctx, ev)
	}
	if err := p.events.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	return nil
}
