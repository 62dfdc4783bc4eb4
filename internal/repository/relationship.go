package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

const relationshipColumns = `id, source_document_id, duplicate_document_id, similarity_percentage, status, reviewed_by, reviewed_at, created_at`

// RelationshipRepository wraps the SQL for the relationships table.
type RelationshipRepository struct {
	db querier
}

// NewRelationshipRepository constructs a repository.
func NewRelationshipRepository(db querier) *RelationshipRepository {
	return &RelationshipRepository{db: db}
}

// Create inserts rel. The unique (source, duplicate) constraint surfaces as
// dedupe.ErrAlreadyExists and a missing document as dedupe.ErrNotFound.
func (r *RelationshipRepository) Create(ctx context.Context, rel *model.Relationship) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rel.ID, rel.SourceDocumentID, rel.DuplicateDocumentID, rel.SimilarityPercentage, string(rel.Status), rel.ReviewedBy, rel.ReviewedAt, rel.CreatedAt)
	return mapError(fmt.Sprintf("relationship %s -> %s", rel.SourceDocumentID, rel.DuplicateDocumentID), err)
}

// Get returns a relationship by id.
func (r *RelationshipRepository) Get(ctx context.Context, id string) (*model.Relationship, error) {
	row := r.db.QueryRow(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id=$1`, id)
	rel, err := scanRelationship(row)
	if err != nil {
		return nil, mapError("relationship "+id, err)
	}
	return rel, nil
}

// UpdateStatus sets status and the reviewer fields. The update only applies
// while the row is still exact or similar, so two concurrent reviews cannot
// both land.
func (r *RelationshipRepository) UpdateStatus(ctx context.Context, id string, status model.RelationshipStatus, reviewer string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE relationships SET status=$2, reviewed_by=$3, reviewed_at=$4
		WHERE id=$1 AND status IN ('exact', 'similar')
	`, id, string(status), reviewer, at)
	if err != nil {
		return mapError("update relationship "+id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM relationships WHERE id=$1)`, id).Scan(&exists); err != nil {
		return mapError("relationship "+id, err)
	}
	if !exists {
		return fmt.Errorf("relationship %s: %w", id, dedupe.ErrNotFound)
	}
	return fmt.Errorf("relationship %s already reviewed: %w", id, dedupe.ErrInvalidTransition)
}

// ListForDocument returns relationships touching documentID, oldest first.
func (r *RelationshipRepository) ListForDocument(ctx context.Context, documentID string) ([]model.Relationship, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_document_id=$1 OR duplicate_document_id=$1
		ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, mapError("select relationships", err)
	}
	defer rows.Close()
	var out []model.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, *rel)
	}
	return out, rows.Err()
}

// DeletePair removes the relationship from sourceID to duplicateID if any.
func (r *RelationshipRepository) DeletePair(ctx context.Context, sourceID, duplicateID string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM relationships WHERE source_document_id=$1 AND duplicate_document_id=$2
	`, sourceID, duplicateID)
	return mapError("delete relationship pair", err)
}

func scanRelationship(row pgx.Row) (*model.Relationship, error) {
	var (
		rel        model.Relationship
		status     string
		reviewedBy sql.NullString
		reviewedAt sql.NullTime
	)
	if err := row.Scan(&rel.ID, &rel.SourceDocumentID, &rel.DuplicateDocumentID, &rel.SimilarityPercentage, &status, &reviewedBy, &reviewedAt, &rel.CreatedAt); err != nil {
		return nil, err
	}
	rel.Status = model.RelationshipStatus(status)
	if reviewedBy.Valid {
		rel.ReviewedBy = model.StringPtr(reviewedBy.String)
	}
	if reviewedAt.Valid {
		at := reviewedAt.Time.UTC()
		rel.ReviewedAt = &at
	}
	rel.CreatedAt = rel.CreatedAt.UTC()
	return &rel, nil
}
