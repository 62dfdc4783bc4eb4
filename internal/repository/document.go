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

const documentColumns = `id, owner_id, name, size, content_type, object_key, content_hash, hashed_at, created_at`

// DocumentRepository wraps the SQL for the documents table.
type DocumentRepository struct {
	db querier
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(db querier) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document. A hash may already be set when the upload was
// hashed while streaming.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, doc.ID, doc.OwnerID, doc.Name, doc.Size, doc.ContentType, doc.ObjectKey, doc.ContentHash, doc.HashedAt, doc.CreatedAt)
	return mapError("insert document "+doc.ID, err)
}

// Get returns a document by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, mapError("select document "+id, err)
	}
	return doc, nil
}

// AttachHash sets content_hash on a document that has none.
func (r *DocumentRepository) AttachHash(ctx context.Context, id, hash string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET content_hash=$2, hashed_at=$3
		WHERE id=$1 AND content_hash IS NULL
	`, id, hash, at)
	if err != nil {
		return mapError("attach hash "+id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("document %s already hashed: %w", id, dedupe.ErrInvalidInput)
}

// Delete removes a document. Relationships cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return mapError("delete document "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	return nil
}

// Candidates lists hashed documents of ownerID other than excludeID, newest
// first with ties broken by id.
func (r *DocumentRepository) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE owner_id=$1 AND id<>$2 AND content_hash IS NOT NULL
		ORDER BY created_at DESC, id ASC
		LIMIT $3
	`, ownerID, excludeID, limit)
	if err != nil {
		return nil, mapError("select candidates", err)
	}
	defer rows.Close()
	out := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		doc      model.Document
		hash     sql.NullString
		hashedAt sql.NullTime
	)
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &doc.Size, &doc.ContentType, &doc.ObjectKey, &hash, &hashedAt, &doc.CreatedAt); err != nil {
		return nil, err
	}
	if hash.Valid {
		doc.ContentHash = model.StringPtr(hash.String)
	}
	if hashedAt.Valid {
		at := hashedAt.Time.UTC()
		doc.HashedAt = &at
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return &doc, nil
}
