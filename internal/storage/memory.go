// Package storage contains the in-memory record and blob stores used by the
// local mode and by tests. Every method is guarded by one RWMutex, so callers
// see the same consistency a single database connection would give them.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

var _ dedupe.Store = (*MemoryStore)(nil)

// MemoryStore implements dedupe.Store with maps.
type MemoryStore struct {
	mu            sync.RWMutex
	docs          map[string]*model.Document
	suppressions  []model.SuppressionEntry
	relationships map[string]*model.Relationship
	events        []model.Event
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:          make(map[string]*model.Document),
		relationships: make(map[string]*model.Relationship),
	}
}

// CreateDocument inserts a document. IDs must be unique.
func (m *MemoryStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, dedupe.ErrAlreadyExists)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	m.docs[doc.ID] = cloneDocument(doc)
	return nil
}

// GetDocument returns a copy of the document.
func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDocument(id)
}

func (m *MemoryStore) getDocument(id string) (*model.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

// AttachHash sets the content hash once.
func (m *MemoryStore) AttachHash(ctx context.Context, id, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	if doc.ContentHash != nil {
		return fmt.Errorf("document %s already hashed: %w", id, dedupe.ErrInvalidInput)
	}
	doc.ContentHash = model.StringPtr(hash)
	doc.HashedAt = &at
	return nil
}

// DeleteDocument removes the document and every relationship touching it.
func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDocument(id)
}

func (m *MemoryStore) deleteDocument(id string) error {
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	delete(m.docs, id)
	for relID, rel := range m.relationships {
		if rel.SourceDocumentID == id || rel.DuplicateDocumentID == id {
			delete(m.relationships, relID)
		}
	}
	return nil
}

// Candidates lists hashed documents for ownerID, newest first.
func (m *MemoryStore) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0)
	for _, doc := range m.docs {
		if doc.OwnerID != ownerID || doc.ID == excludeID || doc.ContentHash == nil {
			continue
		}
		out = append(out, *cloneDocument(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertSuppression appends an entry.
func (m *MemoryStore) InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressions = append(m.suppressions, *entry)
	return nil
}

// ListSuppressions returns the entries for ownerID in insertion order.
func (m *MemoryStore) ListSuppressions(ctx context.Context, ownerID string) ([]model.SuppressionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.SuppressionEntry
	for _, e := range m.suppressions {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SuppressionExists checks both orderings of the pair.
func (m *MemoryStore) SuppressionExists(ctx context.Context, ownerID, hashA, hashB string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.suppressions {
		if e.OwnerID == ownerID && e.Matches(hashA, hashB) {
			return true, nil
		}
	}
	return false, nil
}

// CountSuppressions counts the entries for ownerID.
func (m *MemoryStore) CountSuppressions(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.suppressions {
		if e.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// CreateRelationship inserts rel unless the (source, duplicate) pair exists.
func (m *MemoryStore) CreateRelationship(ctx context.Context, rel *model.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []string{rel.SourceDocumentID, rel.DuplicateDocumentID} {
		if _, ok := m.docs[id]; !ok {
			return fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
		}
	}
	for _, existing := range m.relationships {
		if existing.SourceDocumentID == rel.SourceDocumentID && existing.DuplicateDocumentID == rel.DuplicateDocumentID {
			return fmt.Errorf("relationship %s -> %s: %w", rel.SourceDocumentID, rel.DuplicateDocumentID, dedupe.ErrAlreadyExists)
		}
	}
	cp := *rel
	m.relationships[rel.ID] = &cp
	return nil
}

// GetRelationship returns a copy of the relationship.
func (m *MemoryStore) GetRelationship(ctx context.Context, id string) (*model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.relationships[id]
	if !ok {
		return nil, fmt.Errorf("relationship %s: %w", id, dedupe.ErrNotFound)
	}
	cp := *rel
	return &cp, nil
}

// UpdateRelationshipStatus sets status and the reviewer fields. Only a
// relationship still in an initial status can move.
func (m *MemoryStore) UpdateRelationshipStatus(ctx context.Context, id string, status model.RelationshipStatus, reviewer string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.relationships[id]
	if !ok {
		return fmt.Errorf("relationship %s: %w", id, dedupe.ErrNotFound)
	}
	if !rel.Status.Initial() {
		return fmt.Errorf("relationship %s is %s: %w", id, rel.Status, dedupe.ErrInvalidTransition)
	}
	rel.Status = status
	rel.ReviewedBy = &reviewer
	rel.ReviewedAt = &at
	return nil
}

// ListRelationships returns relationships touching documentID, oldest first.
func (m *MemoryStore) ListRelationships(ctx context.Context, documentID string) ([]model.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Relationship
	for _, rel := range m.relationships {
		if rel.SourceDocumentID == documentID || rel.DuplicateDocumentID == documentID {
			out = append(out, *rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendEvent records an activity event; see events.StoreSink.
func (m *MemoryStore) AppendEvent(ctx context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded events for ownerID.
func (m *MemoryStore) Events(ownerID string) []model.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Event
	for _, ev := range m.events {
		if ev.OwnerID == ownerID {
			out = append(out, ev)
		}
	}
	return out
}

// WithinTx runs fn while holding the write lock. If fn fails every change it
// made is rolled back from a snapshot taken on entry.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(dedupe.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(&memoryTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	docs          map[string]*model.Document
	suppressions  []model.SuppressionEntry
	relationships map[string]*model.Relationship
}

func (m *MemoryStore) snapshot() memorySnapshot {
	s := memorySnapshot{
		docs:          make(map[string]*model.Document, len(m.docs)),
		suppressions:  append([]model.SuppressionEntry(nil), m.suppressions...),
		relationships: make(map[string]*model.Relationship, len(m.relationships)),
	}
	for k, v := range m.docs {
		s.docs[k] = cloneDocument(v)
	}
	for k, v := range m.relationships {
		cp := *v
		s.relationships[k] = &cp
	}
	return s
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.docs = s.docs
	m.suppressions = s.suppressions
	m.relationships = s.relationships
}

// memoryTx operates on the store's maps directly; the lock is already held.
type memoryTx struct {
	m *MemoryStore
}

func (t *memoryTx) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return t.m.getDocument(id)
}

func (t *memoryTx) InsertSuppression(ctx context.Context, entry *model.SuppressionEntry) error {
	t.m.suppressions = append(t.m.suppressions, *entry)
	return nil
}

func (t *memoryTx) DeleteDocument(ctx context.Context, id string) error {
	return t.m.deleteDocument(id)
}

func (t *memoryTx) DeleteRelationshipPair(ctx context.Context, sourceID, duplicateID string) error {
	for id, rel := range t.m.relationships {
		if rel.SourceDocumentID == sourceID && rel.DuplicateDocumentID == duplicateID {
			delete(t.m.relationships, id)
		}
	}
	return nil
}

func cloneDocument(doc *model.Document) *model.Document {
	cp := *doc
	if doc.ContentHash != nil {
		cp.ContentHash = model.StringPtr(*doc.ContentHash)
	}
	if doc.HashedAt != nil {
		at := *doc.HashedAt
		cp.HashedAt = &at
	}
	return &cp
}
