package events

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
)

var _ dedupe.EventSink = (*QueueSink)(nil)

// QueueSink hands events to the task queue; the worker persists them. The
// request path only pays for one Redis write.
type QueueSink struct {
	client *asynq.Client
}

// NewQueueSink returns a QueueSink using client.
func NewQueueSink(client *asynq.Client) *QueueSink {
	return &QueueSink{client: client}
}

func (s *QueueSink) Emit(ctx context.Context, ev model.Event) error {
	return queue.EnqueueEvent(ctx, s.client, ev)
}
