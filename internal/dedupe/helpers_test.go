package dedupe_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/storage"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// addDoc inserts a document created i minutes after baseTime.
func addDoc(t *testing.T, store *storage.MemoryStore, owner, id, hash string, minute int) *model.Document {
	t.Helper()
	doc := &model.Document{
		ID:        id,
		OwnerID:   owner,
		Name:      id + ".pdf",
		Size:      int64(len(id)),
		CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
	}
	if hash != "" {
		doc.ContentHash = model.StringPtr(hash)
	}
	require.NoError(t, store.CreateDocument(context.Background(), doc))
	return doc
}

func matchIDs(matches []model.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.DocumentID)
	}
	return ids
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

var errBackend = errors.New("backend unreachable")

// failingCorpus always fails, to exercise the detection error policy.
type failingCorpus struct{}

func (failingCorpus) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	return nil, errBackend
}

// staticCorpus returns a fixed candidate list, including rows a real index
// would never produce.
type staticCorpus []model.Document

func (c staticCorpus) Candidates(ctx context.Context, ownerID, excludeID string, limit int) ([]model.Document, error) {
	return c, nil
}
