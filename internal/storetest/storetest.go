// Package storetest holds behaviour checks shared by every dedupe.Store
// backend. Each backend's tests call Run with a constructor for a fresh,
// empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// Factory returns an empty store. It registers any cleanup on t.
type Factory func(t *testing.T) dedupe.Store

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the shared checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("documents", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("attach hash", func(t *testing.T) { testAttachHash(t, newStore(t)) })
	t.Run("candidates", func(t *testing.T) { testCandidates(t, newStore(t)) })
	t.Run("suppressions", func(t *testing.T) { testSuppressions(t, newStore(t)) })
	t.Run("relationships", func(t *testing.T) { testRelationships(t, newStore(t)) })
	t.Run("transaction commit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

// Doc builds a document owned by owner created offset after a fixed base.
func Doc(id, owner, hash string, offset time.Duration) *model.Document {
	doc := &model.Document{
		ID:          id,
		OwnerID:     owner,
		Name:        id + ".bin",
		Size:        10,
		ContentType: "application/octet-stream",
		ObjectKey:   "raw/" + id,
		CreatedAt:   base.Add(offset),
	}
	if hash != "" {
		at := base.Add(offset)
		doc.ContentHash = model.StringPtr(hash)
		doc.HashedAt = &at
	}
	return doc
}

func testDocuments(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("a", "o1", "h1", 0)))
	assert.ErrorIs(t, s.CreateDocument(ctx, Doc("a", "o1", "h1", 0)), dedupe.ErrAlreadyExists)

	got, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.OwnerID)
	assert.Equal(t, "a.bin", got.Name)
	assert.Equal(t, int64(10), got.Size)
	assert.Equal(t, "raw/a", got.ObjectKey)
	assert.Equal(t, "h1", got.Hash())
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, dedupe.ErrNotFound)

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	assert.ErrorIs(t, s.DeleteDocument(ctx, "a"), dedupe.ErrNotFound)
}

func testAttachHash(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("a", "o1", "", 0)))

	got, err := s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.False(t, got.Hashed())

	at := base.Add(time.Minute)
	require.NoError(t, s.AttachHash(ctx, "a", "h1", at))
	got, err = s.GetDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.Hash())
	require.NotNil(t, got.HashedAt)
	assert.True(t, got.HashedAt.Equal(at))

	assert.ErrorIs(t, s.AttachHash(ctx, "a", "h2", at), dedupe.ErrInvalidInput)
	assert.ErrorIs(t, s.AttachHash(ctx, "missing", "h2", at), dedupe.ErrNotFound)
}

func testCandidates(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("old", "o1", "h1", 0)))
	require.NoError(t, s.CreateDocument(ctx, Doc("tie-b", "o1", "h2", time.Hour)))
	require.NoError(t, s.CreateDocument(ctx, Doc("tie-a", "o1", "h3", time.Hour)))
	require.NoError(t, s.CreateDocument(ctx, Doc("newest", "o1", "h4", 2*time.Hour)))
	require.NoError(t, s.CreateDocument(ctx, Doc("unhashed", "o1", "", 3*time.Hour)))
	require.NoError(t, s.CreateDocument(ctx, Doc("other-owner", "o2", "h1", 3*time.Hour)))

	got, err := s.Candidates(ctx, "o1", "newest", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"tie-a", "tie-b", "old"}, ids(got))

	got, err = s.Candidates(ctx, "o1", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "tie-a"}, ids(got))

	got, err = s.Candidates(ctx, "nobody", "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSuppressions(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	entry := &model.SuppressionEntry{ID: "s1", OwnerID: "o1", HashA: "bbb", HashB: "aaa", LabelA: "x", LabelB: "y", CreatedAt: base}
	require.NoError(t, s.InsertSuppression(ctx, entry))
	require.NoError(t, s.InsertSuppression(ctx, &model.SuppressionEntry{ID: "s2", OwnerID: "o1", HashA: "aaa", HashB: "bbb", CreatedAt: base.Add(time.Second)}))

	for _, pair := range [][2]string{{"aaa", "bbb"}, {"bbb", "aaa"}} {
		ok, err := s.SuppressionExists(ctx, "o1", pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok, "pair %v", pair)
	}
	ok, err := s.SuppressionExists(ctx, "o2", "aaa", "bbb")
	require.NoError(t, err)
	assert.False(t, ok, "suppressions are owner scoped")
	ok, err = s.SuppressionExists(ctx, "o1", "aaa", "ccc")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountSuppressions(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CountSuppressions(ctx, "o2")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := s.ListSuppressions(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, "x", list[0].LabelA)
}

func testRelationships(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("src", "o1", "h1", 0)))
	require.NoError(t, s.CreateDocument(ctx, Doc("dup", "o1", "h1", time.Minute)))
	require.NoError(t, s.CreateDocument(ctx, Doc("other", "o1", "h2", 2*time.Minute)))

	rel := &model.Relationship{ID: "r1", SourceDocumentID: "src", DuplicateDocumentID: "dup", SimilarityPercentage: 100, Status: model.StatusExact, CreatedAt: base}
	require.NoError(t, s.CreateRelationship(ctx, rel))
	dupe := *rel
	dupe.ID = "r2"
	assert.ErrorIs(t, s.CreateRelationship(ctx, &dupe), dedupe.ErrAlreadyExists)

	missing := &model.Relationship{ID: "r3", SourceDocumentID: "src", DuplicateDocumentID: "ghost", SimilarityPercentage: 80, Status: model.StatusSimilar, CreatedAt: base}
	assert.ErrorIs(t, s.CreateRelationship(ctx, missing), dedupe.ErrNotFound)

	require.NoError(t, s.CreateRelationship(ctx, &model.Relationship{ID: "r4", SourceDocumentID: "other", DuplicateDocumentID: "dup", SimilarityPercentage: 75, Status: model.StatusSimilar, CreatedAt: base.Add(time.Second)}))

	list, err := s.ListRelationships(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r4"}, relIDs(list))

	at := base.Add(time.Hour)
	require.NoError(t, s.UpdateRelationshipStatus(ctx, "r1", model.StatusReviewed, "reviewer", at))
	got, err := s.GetRelationship(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewed, got.Status)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, "reviewer", *got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.ReviewedAt.Equal(at))

	later := at.Add(time.Minute)
	assert.ErrorIs(t, s.UpdateRelationshipStatus(ctx, "r1", model.StatusDismissed, "other", later), dedupe.ErrInvalidTransition)
	got, err = s.GetRelationship(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewed, got.Status, "terminal status is kept")
	assert.Equal(t, "reviewer", *got.ReviewedBy)
	assert.True(t, got.ReviewedAt.Equal(at))

	_, err = s.GetRelationship(ctx, "nope")
	assert.ErrorIs(t, err, dedupe.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRelationshipStatus(ctx, "nope", model.StatusReviewed, "r", at), dedupe.ErrNotFound)

	require.NoError(t, s.DeleteDocument(ctx, "other"))
	list, err = s.ListRelationships(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, relIDs(list), "relationships cascade with their documents")
}

func testTxCommit(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("src", "o1", "h1", 0)))
	require.NoError(t, s.CreateDocument(ctx, Doc("dup", "o1", "h1", time.Minute)))
	require.NoError(t, s.CreateRelationship(ctx, &model.Relationship{ID: "r1", SourceDocumentID: "src", DuplicateDocumentID: "dup", SimilarityPercentage: 100, Status: model.StatusExact, CreatedAt: base}))

	err := s.WithinTx(ctx, func(tx dedupe.Tx) error {
		doc, err := tx.GetDocument(ctx, "dup")
		if err != nil {
			return err
		}
		if err := tx.InsertSuppression(ctx, &model.SuppressionEntry{ID: "s1", OwnerID: doc.OwnerID, HashA: "h1", HashB: "h1", CreatedAt: base}); err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, "dup"); err != nil {
			return err
		}
		return tx.DeleteRelationshipPair(ctx, "src", "dup")
	})
	require.NoError(t, err)

	_, err = s.GetDocument(ctx, "dup")
	assert.ErrorIs(t, err, dedupe.ErrNotFound)
	n, err := s.CountSuppressions(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	list, err := s.ListRelationships(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testTxRollback(t *testing.T, s dedupe.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, Doc("dup", "o1", "h1", 0)))
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx dedupe.Tx) error {
		if err := tx.InsertSuppression(ctx, &model.SuppressionEntry{ID: "s1", OwnerID: "o1", HashA: "h1", HashB: "h2", CreatedAt: base}); err != nil {
			return err
		}
		if err := tx.DeleteDocument(ctx, "dup"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetDocument(ctx, "dup")
	assert.NoError(t, err, "document survives a rolled back delete")
	n, err := s.CountSuppressions(ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func ids(docs []model.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func relIDs(rels []model.Relationship) []string {
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		out = append(out, r.ID)
	}
	return out
}
