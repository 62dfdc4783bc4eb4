package ingest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/events"
	"github.com/dharsanguruparan/dupeguard/internal/fingerprint"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/storage"
)

type fixture struct {
	store *storage.MemoryStore
	blobs *storage.BlobStore
	svc   *Service
	fp    fingerprint.Fingerprinter
}

func newFixture(t *testing.T, lock dedupe.OwnerLock) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := storage.NewBlobStore()
	sink := events.NewStoreSink(store)
	fp := fingerprint.New(fingerprint.ModeRaw)
	ledger := dedupe.NewLedger(store)
	svc := NewService(Config{
		Store:       store,
		Objects:     blobs,
		Fingerprint: fp,
		Detector:    dedupe.NewDetector(store, ledger, dedupe.DetectorConfig{Events: sink}),
		Registry:    dedupe.NewRegistry(store, dedupe.RegistryConfig{Events: sink}),
		Lock:        lock,
		Events:      sink,
	})
	return &fixture{store: store, blobs: blobs, svc: svc, fp: fp}
}

func (f *fixture) upload(t *testing.T, owner, id string, content []byte) *model.Document {
	t.Helper()
	ctx := context.Background()
	key := "uploads/" + owner + "/" + id
	require.NoError(t, f.blobs.UploadRaw(ctx, key, bytes.NewReader(content), int64(len(content)), "text/plain"))
	doc, err := f.svc.Register(ctx, NewDocument{ID: id, OwnerID: owner, Name: id + ".txt", Size: int64(len(content)), ObjectKey: key})
	require.NoError(t, err)
	return doc
}

func TestFingerprint_AttachesHashAndRecordsExactDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	content := []byte("quarterly report")

	first := f.upload(t, "owner-1", "doc-1", content)
	assert.False(t, first.Hashed())
	_, err := f.svc.Fingerprint(ctx, "doc-1")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	f.upload(t, "owner-1", "doc-2", content)
	out, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)

	assert.Equal(t, f.fp.Sum(content), out.Document.Hash())
	require.Len(t, out.Result.Exact, 1)
	assert.Equal(t, "doc-1", out.Result.Exact[0].DocumentID)
	require.Len(t, out.Relationships, 1)
	rel := out.Relationships[0]
	assert.Equal(t, "doc-1", rel.SourceDocumentID)
	assert.Equal(t, "doc-2", rel.DuplicateDocumentID)
	assert.Equal(t, model.StatusExact, rel.Status)
	assert.Equal(t, 100, rel.SimilarityPercentage)

	stored, err := f.store.GetDocument(ctx, "doc-2")
	require.NoError(t, err)
	assert.True(t, stored.Hashed())
	assert.NotNil(t, stored.HashedAt)
}

func TestFingerprint_RetryIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upload(t, "owner-1", "doc-1", []byte("same"))
	_, err := f.svc.Fingerprint(ctx, "doc-1")
	require.NoError(t, err)
	f.upload(t, "owner-1", "doc-2", []byte("same"))

	first, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)
	second, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)

	assert.Len(t, first.Relationships, 1)
	assert.Empty(t, second.Relationships, "existing pair is not recorded again")
	assert.Equal(t, first.Document.Hash(), second.Document.Hash())

	rels, err := f.store.ListRelationships(ctx, "doc-2")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestFingerprint_DismissedPairIsNotResurfaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.upload(t, "owner-1", "doc-1", []byte("same"))
	_, err := f.svc.Fingerprint(ctx, "doc-1")
	require.NoError(t, err)
	f.upload(t, "owner-1", "doc-2", []byte("same"))
	out, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)
	require.Len(t, out.Relationships, 1)

	_, err = f.svc.registry.TransitionStatus(ctx, out.Relationships[0].ID, model.StatusDismissed, "owner-1")
	require.NoError(t, err)

	again, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)
	assert.Empty(t, again.Relationships)
	rels, err := f.store.ListRelationships(ctx, "doc-2")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, model.StatusDismissed, rels[0].Status)
}

func TestFingerprint_EmptyContentRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.upload(t, "owner-1", "empty", nil)

	_, err := f.svc.Fingerprint(context.Background(), "empty")
	assert.ErrorIs(t, err, dedupe.ErrInvalidInput)

	doc, err := f.store.GetDocument(context.Background(), "empty")
	require.NoError(t, err)
	assert.False(t, doc.Hashed())
}

func TestFingerprint_MissingDocument(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Fingerprint(context.Background(), "nope")
	assert.ErrorIs(t, err, dedupe.ErrNotFound)
}

func TestIngest_SynchronousHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	content := []byte("inline")
	hash := f.fp.Sum(content)

	_, err := f.svc.Ingest(ctx, NewDocument{ID: "a", OwnerID: "owner-1", Size: int64(len(content))}, hash)
	require.NoError(t, err)
	out, err := f.svc.Ingest(ctx, NewDocument{ID: "b", OwnerID: "owner-1", Size: int64(len(content))}, hash)
	require.NoError(t, err)

	assert.True(t, out.Document.Hashed())
	assert.Equal(t, []string{"a"}, ids(out.Result.Exact))

	actions := make([]string, 0)
	for _, ev := range f.store.Events("owner-1") {
		actions = append(actions, ev.Action)
	}
	assert.Contains(t, actions, model.ActionIngested)
	assert.Contains(t, actions, model.ActionHashUpdated)
	assert.Contains(t, actions, model.ActionScan)
}

func TestIngest_RejectsEmptyContent(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Ingest(context.Background(), NewDocument{OwnerID: "owner-1"}, f.fp.Sum(nil))
	assert.ErrorIs(t, err, dedupe.ErrInvalidInput)
	_, err = f.svc.Ingest(context.Background(), NewDocument{Size: 3}, "abc")
	assert.ErrorIs(t, err, dedupe.ErrInvalidInput)
}

func TestFingerprint_OwnerLockBusy(t *testing.T) {
	lock := &fakeLock{held: map[string]bool{"owner:owner-1": true}}
	f := newFixture(t, lock)
	f.upload(t, "owner-1", "doc-1", []byte("x"))

	_, err := f.svc.Fingerprint(context.Background(), "doc-1")
	assert.ErrorIs(t, err, dedupe.ErrOwnerBusy)
}

func TestFingerprint_OwnerLockReleased(t *testing.T) {
	lock := &fakeLock{held: map[string]bool{}}
	f := newFixture(t, lock)
	f.upload(t, "owner-1", "doc-1", []byte("x"))

	_, err := f.svc.Fingerprint(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lock.acquired)
	assert.False(t, lock.held["owner:owner-1"])
}

func TestFingerprint_HashedWhileWaitingForLock(t *testing.T) {
	lock := &fakeLock{held: map[string]bool{}}
	f := newFixture(t, lock)
	ctx := context.Background()
	content := []byte("same bytes")
	f.upload(t, "owner-1", "doc-1", content)
	_, err := f.svc.Fingerprint(ctx, "doc-1")
	require.NoError(t, err)
	f.upload(t, "owner-1", "doc-2", content)

	// A concurrent task attaches the hash between our first read and the lock.
	hash := f.fp.Sum(content)
	lock.granted = func() {
		require.NoError(t, f.store.AttachHash(ctx, "doc-2", hash, time.Now().UTC()))
	}
	out, err := f.svc.Fingerprint(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, hash, out.Document.Hash())
	assert.Equal(t, []string{"doc-1"}, ids(out.Result.Exact))
}

func ids(matches []model.Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.DocumentID)
	}
	return out
}

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	// granted runs after a successful acquire, standing in for work another
	// holder finished while this caller waited.
	granted func()
}

func (l *fakeLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return false, nil
	}
	l.held[name] = true
	l.acquired++
	granted := l.granted
	l.mu.Unlock()
	if granted != nil {
		granted()
	}
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
