package repository

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// SuppressionRepository wraps the SQL for the suppressions table.
type SuppressionRepository struct {
	db querier
}

// NewSuppressionRepository constructs a repository.
func NewSuppressionRepository(db querier) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// Insert appends an entry.
func (r *SuppressionRepository) Insert(ctx context.Context, e *model.SuppressionEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO suppressions (id, owner_id, hash_a, hash_b, label_a, label_b, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.OwnerID, e.HashA, e.HashB, e.LabelA, e.LabelB, e.Notes, e.CreatedAt)
	return mapError("insert suppression", err)
}

// List returns every entry for ownerID, oldest first.
func (r *SuppressionRepository) List(ctx context.Context, ownerID string) ([]model.SuppressionEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, owner_id, hash_a, hash_b, label_a, label_b, notes, created_at
		FROM suppressions WHERE owner_id=$1
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, mapError("select suppressions", err)
	}
	defer rows.Close()
	var out []model.SuppressionEntry
	for rows.Next() {
		var e model.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.HashA, &e.HashB, &e.LabelA, &e.LabelB, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Exists checks the unordered pair using the canonical LEAST/GREATEST index.
func (r *SuppressionRepository) Exists(ctx context.Context, ownerID, hashA, hashB string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE owner_id=$1
			  AND LEAST(hash_a, hash_b) = LEAST($2::text, $3::text)
			  AND GREATEST(hash_a, hash_b) = GREATEST($2::text, $3::text)
		)
	`, ownerID, hashA, hashB).Scan(&ok)
	if err != nil {
		return false, mapError("check suppression", err)
	}
	return ok, nil
}

// Count returns the number of entries for ownerID.
func (r *SuppressionRepository) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM suppressions WHERE owner_id=$1`, ownerID).Scan(&n); err != nil {
		return 0, mapError("count suppressions", err)
	}
	return n, nil
}
