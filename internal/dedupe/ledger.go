package dedupe

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// Ledger remembers hash pairs a user dismissed by deleting one side. Entries
// are owner scoped and permanent; the pair is unordered.
type Ledger struct {
	store SuppressionStore
	now   func() time.Time
}

// NewLedger returns a Ledger backed by store.
func NewLedger(store SuppressionStore) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Record inserts a suppression entry. Recording the same pair twice is
// harmless because lookups only test for existence.
func (l *Ledger) Record(ctx context.Context, ownerID, hashA, hashB, labelA, labelB, note string) (*model.SuppressionEntry, error) {
	entry, err := newSuppressionEntry(ownerID, hashA, hashB, labelA, labelB, note, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.InsertSuppression(ctx, entry); err != nil {
		return nil, storageErr("record suppression", err)
	}
	return entry, nil
}

// IsSuppressed reports whether {hashA, hashB} was recorded for ownerID, in
// either order.
func (l *Ledger) IsSuppressed(ctx context.Context, ownerID, hashA, hashB string) (bool, error) {
	if ownerID == "" {
		return false, invalid("owner id is required")
	}
	ok, err := l.store.SuppressionExists(ctx, ownerID, hashA, hashB)
	if err != nil {
		return false, storageErr("check suppression", err)
	}
	return ok, nil
}

// Count returns the number of entries recorded for ownerID.
func (l *Ledger) Count(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, invalid("owner id is required")
	}
	n, err := l.store.CountSuppressions(ctx, ownerID)
	if err != nil {
		return 0, storageErr("count suppressions", err)
	}
	return n, nil
}

// Pairs loads every suppressed pair for ownerID into a lookup set.
func (l *Ledger) Pairs(ctx context.Context, ownerID string) (PairSet, error) {
	entries, err := l.store.ListSuppressions(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list suppressions", err)
	}
	set := make(PairSet, len(entries))
	for _, e := range entries {
		set[model.PairKey(e.HashA, e.HashB)] = struct{}{}
	}
	return set, nil
}

// PairSet is a set of unordered hash pairs.
type PairSet map[string]struct{}

// Contains reports whether {a, b} is in the set.
func (s PairSet) Contains(a, b string) bool {
	_, ok := s[model.PairKey(a, b)]
	return ok
}

func newSuppressionEntry(ownerID, hashA, hashB, labelA, labelB, note string, at time.Time) (*model.SuppressionEntry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, invalid("owner id is required")
	}
	if hashA == "" || hashB == "" {
		return nil, invalid("both hashes are required")
	}
	return &model.SuppressionEntry{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		HashA:     hashA,
		HashB:     hashB,
		LabelA:    labelA,
		LabelB:    labelB,
		Notes:     note,
		CreatedAt: at,
	}, nil
}
