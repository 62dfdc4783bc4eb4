package dedupe

import (
	"context"
	"time"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// CorpusIndex lists the documents a new upload is compared against.
// Implementations must return only hashed documents owned by ownerID,
// excluding excludeID, ordered newest first (ties by id), at most limit rows.
type CorpusIndex interface {
	Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error)
}

// SuppressionStore persists suppression entries.
type SuppressionStore interface {
	InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error
	ListSuppressions(ctx context.Context, ownerID string) ([]model.SuppressionEntry, error)
	SuppressionExists(ctx context.Context, ownerID, hashA, hashB string) (bool, error)
	CountSuppressions(ctx context.Context, ownerID string) (int, error)
}

// DocumentStore persists document records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// AttachHash sets the content hash of a document that has none yet.
	AttachHash(ctx context.Context, id, hash string, at time.Time) error
	DeleteDocument(ctx context.Context, id string) error
}

// RelationshipStore persists duplicate relationships.
type RelationshipStore interface {
	CreateRelationship(ctx context.Context, rel *model.Relationship) error
	GetRelationship(ctx context.Context, id string) (*model.Relationship, error)
	UpdateRelationshipStatus(ctx context.Context, id string, status model.RelationshipStatus, reviewer string, at time.Time) error
	ListRelationships(ctx context.Context, documentID string) ([]model.Relationship, error)
}

// Tx is the view of the store available inside a delete transaction.
type Tx interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error
	DeleteDocument(ctx context.Context, id string) error
	DeleteRelationshipPair(ctx context.Context, sourceID, duplicateID string) error
}

// Transactor runs fn atomically: every write made through the Tx commits
// together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Store is the full durable record store. The memory, SQLite, and
// PostgreSQL backends all implement it.
type Store interface {
	CorpusIndex
	SuppressionStore
	DocumentStore
	RelationshipStore
	Transactor
}

// EventSink receives best-effort activity records.
type EventSink interface {
	Emit(ctx context.Context, event model.Event) error
}

// OwnerLock serializes work for a single owner across processes.
type OwnerLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}
