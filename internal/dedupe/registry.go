package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// RegistryStore is the subset of Store the Registry needs.
type RegistryStore interface {
	RelationshipStore
	Transactor
	GetDocument(ctx context.Context, id string) (*model.Document, error)
}

// RegistryConfig carries the Registry's optional collaborators.
type RegistryConfig struct {
	Events EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

// Registry owns the lifecycle of confirmed duplicate relationships.
type Registry struct {
	store  RegistryStore
	events Emitter
	now    func() time.Time
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store RegistryStore, cfg RegistryConfig) *Registry {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		store:  store,
		events: NewEmitter(cfg.Events, cfg.Logger, now),
		now:    now,
	}
}

// RecordRelationship stores a detection result. Only the initial statuses
// are accepted and similarity must lie in [0, 100].
func (r *Registry) RecordRelationship(ctx context.Context, sourceID, duplicateID string, similarity int, status model.RelationshipStatus) (*model.Relationship, error) {
	if sourceID == "" || duplicateID == "" {
		return nil, invalid("source and duplicate ids are required")
	}
	if sourceID == duplicateID {
		return nil, invalid("a document cannot duplicate itself")
	}
	if similarity < 0 || similarity > 100 {
		return nil, invalid("similarity %d out of range", similarity)
	}
	if !status.Initial() {
		return nil, invalid("relationship must start as exact or similar, got %q", status)
	}
	rel := &model.Relationship{
		ID:                   uuid.NewString(),
		SourceDocumentID:     sourceID,
		DuplicateDocumentID:  duplicateID,
		SimilarityPercentage: similarity,
		Status:               status,
		CreatedAt:            r.now(),
	}
	if err := r.store.CreateRelationship(ctx, rel); err != nil {
		return nil, storageErr("create relationship", err)
	}
	return rel, nil
}

// TransitionStatus moves a relationship from exact/similar into reviewed or
// dismissed. Both targets are terminal. Dismissal only affects this document
// pair; it does not touch the suppression ledger.
func (r *Registry) TransitionStatus(ctx context.Context, relationshipID string, status model.RelationshipStatus, reviewerID string) (*model.Relationship, error) {
	if relationshipID == "" {
		return nil, invalid("relationship id is required")
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, invalid("reviewer id is required")
	}
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, status)
	}
	rel, err := r.store.GetRelationship(ctx, relationshipID)
	if err != nil {
		return nil, storageErr("get relationship", err)
	}
	if !rel.Status.Initial() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rel.Status, status)
	}
	// The store re-checks the status when it writes; a concurrent review
	// that got there first surfaces as ErrInvalidTransition.
	at := r.now()
	if err := r.store.UpdateRelationshipStatus(ctx, relationshipID, status, reviewerID, at); err != nil {
		return nil, storageErr("update relationship", err)
	}
	previous := rel.Status
	rel.Status = status
	rel.ReviewedBy = &reviewerID
	rel.ReviewedAt = &at

	ownerID := reviewerID
	if src, err := r.store.GetDocument(ctx, rel.SourceDocumentID); err == nil {
		ownerID = src.OwnerID
	}
	r.events.Emit(ctx, ownerID, model.ActionStatusChanged, rel.SourceDocumentID, map[string]any{
		"relationship_id":       rel.ID,
		"duplicate_document_id": rel.DuplicateDocumentID,
		"from":                  string(previous),
		"to":                    string(status),
		"reviewed_by":           reviewerID,
	})
	return rel, nil
}

// Relationships lists every relationship touching documentID.
func (r *Registry) Relationships(ctx context.Context, documentID string) ([]model.Relationship, error) {
	rels, err := r.store.ListRelationships(ctx, documentID)
	if err != nil {
		return nil, storageErr("list relationships", err)
	}
	return rels, nil
}

// DeleteOutcome describes a completed DeleteDuplicate.
type DeleteOutcome struct {
	Source      *model.Document         `json:"source"`
	Deleted     *model.Document         `json:"deleted"`
	Suppression *model.SuppressionEntry `json:"suppression,omitempty"`
}

// DeleteDuplicate removes duplicateID as a duplicate of sourceID. In a single
// transaction it reads both documents, records the hash pair in the ledger
// when both hashes are known, deletes the duplicate (cascading its
// relationships), and deletes the pair's relationship. The suppression is
// written before the document goes away, so a rollback can never leave a
// deleted document without its suppression. Any failure is returned.
func (r *Registry) DeleteDuplicate(ctx context.Context, sourceID, duplicateID, ownerID string) (*DeleteOutcome, error) {
	if sourceID == "" || duplicateID == "" || ownerID == "" {
		return nil, invalid("source, duplicate and owner ids are required")
	}
	if sourceID == duplicateID {
		return nil, invalid("source and duplicate must differ")
	}
	var out DeleteOutcome
	err := r.store.WithinTx(ctx, func(tx Tx) error {
		src, err := ownedDocument(ctx, tx, sourceID, ownerID)
		if err != nil {
			return err
		}
		dup, err := ownedDocument(ctx, tx, duplicateID, ownerID)
		if err != nil {
			return err
		}
		out.Source, out.Deleted = src, dup
		if src.Hashed() && dup.Hashed() {
			note := fmt.Sprintf("deleted %q as a duplicate of %q", dup.Name, src.Name)
			entry, err := newSuppressionEntry(ownerID, src.Hash(), dup.Hash(), src.Name, dup.Name, note, r.now())
			if err != nil {
				return err
			}
			if err := tx.InsertSuppression(ctx, entry); err != nil {
				return fmt.Errorf("record suppression: %w", err)
			}
			out.Suppression = entry
		}
		if err := tx.DeleteDocument(ctx, duplicateID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		if err := tx.DeleteRelationshipPair(ctx, sourceID, duplicateID); err != nil {
			return fmt.Errorf("delete relationship: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("delete duplicate", err)
	}

	payload := map[string]any{
		"source_document_id": sourceID,
		"suppressed":         out.Suppression != nil,
	}
	if out.Suppression != nil {
		payload["suppression_id"] = out.Suppression.ID
	}
	r.events.Emit(ctx, ownerID, model.ActionDeleted, duplicateID, payload)
	return &out, nil
}

func ownedDocument(ctx context.Context, tx Tx, id, ownerID string) (*model.Document, error) {
	doc, err := tx.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}
