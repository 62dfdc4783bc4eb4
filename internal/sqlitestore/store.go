// Package sqlitestore implements the duplicate engine's store ports on an
// embedded SQLite database. It backs the CLI's local mode.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/sqlitestore/migrations"
)

// timeLayout is fixed width so text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ dedupe.Store = (*Store)(nil)

// dbtx is the subset of *sql.DB and *sql.Tx the queries use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed dedupe.Store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs every NNN_name.up.sql file newer than the recorded version.
func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)
	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// ==================== Documents ====================

const documentColumns = `id, owner_id, name, size, content_type, object_key, content_hash, hashed_at, created_at`

func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.OwnerID, doc.Name, doc.Size, doc.ContentType, doc.ObjectKey,
		nullablePtr(doc.ContentHash), formatNullableTime(doc.HashedAt), formatTime(doc.CreatedAt))
	return mapError("insert document "+doc.ID, err)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, q dbtx, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, mapError("select document "+id, err)
	}
	return doc, nil
}

func (s *Store) AttachHash(ctx context.Context, id, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content_hash = ?, hashed_at = ?
		WHERE id = ? AND content_hash IS NULL
	`, hash, formatTime(at), id)
	if err != nil {
		return mapError("attach hash "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetDocument(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("document %s already hashed: %w", id, dedupe.ErrInvalidInput)
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return deleteDocument(ctx, s.db, id)
}

func deleteDocument(ctx context.Context, q dbtx, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return mapError("delete document "+id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	return nil
}

func (s *Store) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE owner_id = ? AND id <> ? AND content_hash IS NOT NULL
		ORDER BY created_at DESC, id ASC
		LIMIT ?
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

// ==================== Suppressions ====================

func (s *Store) InsertSuppression(ctx context.Context, e *model.SuppressionEntry) error {
	return insertSuppression(ctx, s.db, e)
}

func insertSuppression(ctx context.Context, q dbtx, e *model.SuppressionEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO suppressions (id, owner_id, hash_a, hash_b, label_a, label_b, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OwnerID, e.HashA, e.HashB, e.LabelA, e.LabelB, e.Notes, formatTime(e.CreatedAt))
	return mapError("insert suppression", err)
}

func (s *Store) ListSuppressions(ctx context.Context, ownerID string) ([]model.SuppressionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, hash_a, hash_b, label_a, label_b, notes, created_at
		FROM suppressions WHERE owner_id = ?
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, mapError("select suppressions", err)
	}
	defer rows.Close()
	var out []model.SuppressionEntry
	for rows.Next() {
		var (
			e       model.SuppressionEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.HashA, &e.HashB, &e.LabelA, &e.LabelB, &e.Notes, &created); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SuppressionExists(ctx context.Context, ownerID, hashA, hashB string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE owner_id = ?
			  AND min(hash_a, hash_b) = min(?, ?)
			  AND max(hash_a, hash_b) = max(?, ?)
		)
	`, ownerID, hashA, hashB, hashA, hashB).Scan(&ok)
	if err != nil {
		return false, mapError("check suppression", err)
	}
	return ok, nil
}

func (s *Store) CountSuppressions(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suppressions WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, mapError("count suppressions", err)
	}
	return n, nil
}

// ==================== Relationships ====================

const relationshipColumns = `id, source_document_id, duplicate_document_id, similarity_percentage, status, reviewed_by, reviewed_at, created_at`

func (s *Store) CreateRelationship(ctx context.Context, rel *model.Relationship) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.SourceDocumentID, rel.DuplicateDocumentID, rel.SimilarityPercentage, string(rel.Status),
		nullablePtr(rel.ReviewedBy), formatNullableTime(rel.ReviewedAt), formatTime(rel.CreatedAt))
	return mapError(fmt.Sprintf("relationship %s -> %s", rel.SourceDocumentID, rel.DuplicateDocumentID), err)
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)
	rel, err := scanRelationship(row)
	if err != nil {
		return nil, mapError("relationship "+id, err)
	}
	return rel, nil
}

func (s *Store) UpdateRelationshipStatus(ctx context.Context, id string, status model.RelationshipStatus, reviewer string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET status = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status IN ('exact', 'similar')
	`, string(status), reviewer, formatTime(at), id)
	if err != nil {
		return mapError("update relationship "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("update relationship "+id, err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM relationships WHERE id = ?)`, id).Scan(&exists); err != nil {
		return mapError("relationship "+id, err)
	}
	if !exists {
		return fmt.Errorf("relationship %s: %w", id, dedupe.ErrNotFound)
	}
	return fmt.Errorf("relationship %s already reviewed: %w", id, dedupe.ErrInvalidTransition)
}

func (s *Store) ListRelationships(ctx context.Context, documentID string) ([]model.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_document_id = ? OR duplicate_document_id = ?
		ORDER BY created_at, id
	`, documentID, documentID)
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

// ==================== Events ====================

// AppendEvent stores ev with its payload as JSON text. Replays of the same
// event id are ignored.
func (s *Store) AppendEvent(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	var payload any
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshalling payload: %w", err)
		}
		payload = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, owner_id, action, subject_document_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.OwnerID, ev.Action, ev.SubjectDocumentID, payload, formatTime(ev.CreatedAt))
	return mapError("insert event", err)
}

// Events returns every event recorded for ownerID, oldest first.
func (s *Store) Events(ctx context.Context, ownerID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, action, subject_document_id, payload, created_at
		FROM events WHERE owner_id = ? ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, mapError("select events", err)
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var (
			ev      model.Event
			payload sql.NullString
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.Action, &ev.SubjectDocumentID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshalling payload: %w", err)
			}
		}
		if ev.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ==================== Transactions ====================

// WithinTx runs fn in one SQLite transaction, committing only when fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(dedupe.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return getDocument(ctx, t.tx, id)
}

func (t *sqliteTx) InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	return insertSuppression(ctx, t.tx, entry)
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, id string) error {
	return deleteDocument(ctx, t.tx, id)
}

func (t *sqliteTx) DeleteRelationshipPair(ctx context.Context, sourceID, duplicateID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM relationships WHERE source_document_id = ? AND duplicate_document_id = ?
	`, sourceID, duplicateID)
	return mapError("delete relationship pair", err)
}

// ==================== Helpers ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*model.Document, error) {
	var (
		doc      model.Document
		hash     sql.NullString
		hashedAt sql.NullString
		created  string
	)
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Name, &doc.Size, &doc.ContentType, &doc.ObjectKey, &hash, &hashedAt, &created); err != nil {
		return nil, err
	}
	if hash.Valid {
		doc.ContentHash = model.StringPtr(hash.String)
	}
	var err error
	if doc.HashedAt, err = parseNullableTime(hashedAt); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanRelationship(row scanner) (*model.Relationship, error) {
	var (
		rel        model.Relationship
		status     string
		reviewedBy sql.NullString
		reviewedAt sql.NullString
		created    string
	)
	if err := row.Scan(&rel.ID, &rel.SourceDocumentID, &rel.DuplicateDocumentID, &rel.SimilarityPercentage, &status, &reviewedBy, &reviewedAt, &created); err != nil {
		return nil, err
	}
	rel.Status = model.RelationshipStatus(status)
	if reviewedBy.Valid {
		rel.ReviewedBy = model.StringPtr(reviewedBy.String)
	}
	var err error
	if rel.ReviewedAt, err = parseNullableTime(reviewedAt); err != nil {
		return nil, err
	}
	if rel.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rel, nil
}

// mapError translates driver errors into the engine's sentinels.
func mapError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, dedupe.ErrNotFound)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", what, dedupe.ErrAlreadyExists)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", what, dedupe.ErrNotFound)
		}
		// Without extended result codes only the primary code is set.
		if sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			msg := sqliteErr.Error()
			switch {
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("%s: %w", what, dedupe.ErrNotFound)
			case strings.Contains(msg, "UNIQUE"):
				return fmt.Errorf("%s: %w", what, dedupe.ErrAlreadyExists)
			}
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
