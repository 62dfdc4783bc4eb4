// Package events provides the activity sinks the engine reports to. Every
// sink is best effort from the engine's point of view: an Emit error is
// logged by the caller and never fails the operation that produced it.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

var (
	_ dedupe.EventSink = (*LogSink)(nil)
	_ dedupe.EventSink = (*StoreSink)(nil)
	_ dedupe.EventSink = Multi(nil)
	_ dedupe.EventSink = Discard{}
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink; a nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev model.Event) error {
	s.logger.InfoContext(ctx, "event",
		"id", ev.ID,
		"owner_id", ev.OwnerID,
		"action", ev.Action,
		"document_id", ev.SubjectDocumentID,
		"payload", ev.Payload,
	)
	return nil
}

// Appender is an append-only event table.
type Appender interface {
	AppendEvent(ctx context.Context, ev model.Event) error
}

// StoreSink appends events directly to a durable table.
type StoreSink struct {
	store Appender
}

// NewStoreSink returns a StoreSink writing to store.
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Emit(ctx context.Context, ev model.Event) error {
	return s.store.AppendEvent(ctx, ev)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []dedupe.EventSink

func (m Multi) Emit(ctx context.Context, ev model.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, model.Event) error { return nil }
