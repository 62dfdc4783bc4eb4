package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

var _ dedupe.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of dedupe.Store.
type Store struct {
	pool          *pgxpool.Pool
	Documents     *DocumentRepository
	Suppressions  *SuppressionRepository
	Relationships *RelationshipRepository
	Events        *EventRepository
}

// NewStore builds every repository over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		Documents:     NewDocumentRepository(pool),
		Suppressions:  NewSuppressionRepository(pool),
		Relationships: NewRelationshipRepository(pool),
		Events:        NewEventRepository(pool),
	}
}

func (s *Store) CreateDocument(ctx context.Context, doc *model.Document) error {
	return s.Documents.Create(ctx, doc)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.Documents.Get(ctx, id)
}

func (s *Store) AttachHash(ctx context.Context, id, hash string, at time.Time) error {
	return s.Documents.AttachHash(ctx, id, hash, at)
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.Documents.Delete(ctx, id)
}

func (s *Store) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	return s.Documents.Candidates(ctx, ownerID, excludeID, limit)
}

func (s *Store) InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	return s.Suppressions.Insert(ctx, entry)
}

func (s *Store) ListSuppressions(ctx context.Context, ownerID string) ([]model.SuppressionEntry, error) {
	return s.Suppressions.List(ctx, ownerID)
}

func (s *Store) SuppressionExists(ctx context.Context, ownerID, hashA, hashB string) (bool, error) {
	return s.Suppressions.Exists(ctx, ownerID, hashA, hashB)
}

func (s *Store) CountSuppressions(ctx context.Context, ownerID string) (int, error) {
	return s.Suppressions.Count(ctx, ownerID)
}

func (s *Store) CreateRelationship(ctx context.Context, rel *model.Relationship) error {
	return s.Relationships.Create(ctx, rel)
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	return s.Relationships.Get(ctx, id)
}

func (s *Store) UpdateRelationshipStatus(ctx context.Context, id string, status model.RelationshipStatus, reviewer string, at time.Time) error {
	return s.Relationships.UpdateStatus(ctx, id, status, reviewer, at)
}

func (s *Store) ListRelationships(ctx context.Context, documentID string) ([]model.Relationship, error) {
	return s.Relationships.ListForDocument(ctx, documentID)
}

// AppendEvent lets the store act as an events.Appender.
func (s *Store) AppendEvent(ctx context.Context, ev model.Event) error {
	return s.Events.Append(ctx, ev)
}

// WithinTx runs fn inside one database transaction. pgx.BeginFunc commits
// when fn returns nil and rolls back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(dedupe.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{
			docs: NewDocumentRepository(tx),
			sups: NewSuppressionRepository(tx),
			rels: NewRelationshipRepository(tx),
		})
	})
}

type pgTx struct {
	docs *DocumentRepository
	sups *SuppressionRepository
	rels *RelationshipRepository
}

func (t *pgTx) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return t.docs.Get(ctx, id)
}

func (t *pgTx) InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	return t.sups.Insert(ctx, entry)
}

func (t *pgTx) DeleteDocument(ctx context.Context, id string) error {
	return t.docs.Delete(ctx, id)
}

func (t *pgTx) DeleteRelationshipPair(ctx context.Context, sourceID, duplicateID string) error {
	return t.rels.DeletePair(ctx, sourceID, duplicateID)
}
