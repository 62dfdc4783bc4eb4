package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

const (
	// FingerprintDocumentTask is scheduled each time a document is uploaded
	// without a hash.
	FingerprintDocumentTask = "document:fingerprint"
	// RecordEventTask carries one activity event to the worker.
	RecordEventTask = "event:record"
)

// FingerprintPayload is serialized into the task payload so the worker knows
// which object to hash.
type FingerprintPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	ObjectKey  string `json:"object_key"`
}

// NewFingerprintTask builds the fingerprint task for payload.
func NewFingerprintTask(payload FingerprintPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(FingerprintDocumentTask, data), nil
}

// EnqueueFingerprint enqueues a fingerprint job.
func EnqueueFingerprint(ctx context.Context, client *asynq.Client, payload FingerprintPayload) error {
	task, err := NewFingerprintTask(payload)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue fingerprint task: %w", err)
	}
	return nil
}

// ParseFingerprint decodes a fingerprint task payload.
func ParseFingerprint(task *asynq.Task) (FingerprintPayload, error) {
	var payload FingerprintPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if payload.DocumentID == "" {
		return payload, fmt.Errorf("decode payload: missing document_id: %w", asynq.SkipRetry)
	}
	return payload, nil
}

// NewEventTask builds the event task for ev.
func NewEventTask(ev model.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return asynq.NewTask(RecordEventTask, data), nil
}

// EnqueueEvent enqueues an activity event. Events are low priority and
// retried a few times only.
func EnqueueEvent(ctx context.Context, client *asynq.Client, ev model.Event) error {
	task, err := NewEventTask(ev)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Queue(EventsQueue)); err != nil {
		return fmt.Errorf("enqueue event task: %w", err)
	}
	return nil
}

// ParseEvent decodes an event task payload.
func ParseEvent(task *asynq.Task) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// Queue names and their relative weights for the worker server.
const (
	DefaultQueue = "default"
	EventsQueue  = "events"
)

// Queues returns the asynq queue priority map.
func Queues() map[string]int {
	return map[string]int{DefaultQueue: 6, EventsQueue: 2}
}

// Dispatcher hands fingerprint work to a background runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload FingerprintPayload) error
}

// Client dispatches fingerprint work through asynq.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// Dispatch enqueues a fingerprint task.
func (c *Client) Dispatch(ctx context.Context, payload FingerprintPayload) error {
	return EnqueueFingerprint(ctx, c.client, payload)
}
