package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// emitTimeout bounds how long one Emit can hold up the operation that
// triggered it.
var emitTimeout = 2 * time.Second

// Emitter forwards events to a sink and swallows failures, logging them
// instead. A nil sink disables emission.
type Emitter struct {
	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter returns an Emitter for sink.
func NewEmitter(sink EventSink, logger *slog.Logger, now func() time.Time) Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return Emitter{sink: sink, logger: logger, now: now}
}

// Emit builds and sends one event. It never fails.
func (e Emitter) Emit(ctx context.Context, ownerID, action, subjectID string, payload map[string]any) {
	if e.sink == nil {
		return
	}
	ev := model.Event{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Action:            action,
		SubjectDocumentID: subjectID,
		Payload:           payload,
		CreatedAt:         e.now(),
	}
	// The primary operation may already be finishing; the sink gets its own
	// short deadline that the caller's cancellation does not cut.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.logger.Warn("emit event failed", "action", action, "owner_id", ownerID, "document_id", subjectID, "error", err)
	}
}
