package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// EventRepository appends to and reads the events table.
type EventRepository struct {
	db querier
}

// NewEventRepository constructs a repository.
func NewEventRepository(db querier) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores ev. Payload is written as JSONB.
func (r *EventRepository) Append(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO events (id, owner_id, action, subject_document_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.OwnerID, ev.Action, ev.SubjectDocumentID, ev.Payload, ev.CreatedAt)
	return mapError("insert event", err)
}

// ListForOwner returns the newest limit events for ownerID, oldest first.
func (r *EventRepository) ListForOwner(ctx context.Context, ownerID string, limit int) ([]model.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, action, subject_document_id, payload, created_at FROM (
			SELECT * FROM events WHERE owner_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
		) recent ORDER BY created_at, id
	`, ownerID, limit)
	if err != nil {
		return nil, mapError("select events", err)
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Action, &ev.SubjectDocumentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}
