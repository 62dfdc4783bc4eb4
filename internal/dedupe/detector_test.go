package dedupe_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/storage"
)

func newDetector(store *storage.MemoryStore, sink dedupe.EventSink) *dedupe.Detector {
	return dedupe.NewDetector(store, dedupe.NewLedger(store), dedupe.DetectorConfig{Events: sink})
}

func TestDetect_ExactDuplicate(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abc123", 0)
	addDoc(t, store, "owner-1", "n", "abc123", 1)

	result := newDetector(store, nil).Detect(context.Background(), "owner-1", "abc123", "n")

	require.Len(t, result.Exact, 1)
	assert.Equal(t, "d1", result.Exact[0].DocumentID)
	assert.Equal(t, 100, result.Exact[0].MatchPercentage)
	assert.Equal(t, "d1.pdf", result.Exact[0].Name)
	require.Len(t, result.Similar, 1)
	assert.Equal(t, "d1", result.Similar[0].DocumentID)
	assert.Equal(t, 100, result.Similar[0].MatchPercentage)
}

func TestDetect_SuppressedPairRemovesExactMatch(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abc123", 0)
	ctx := context.Background()
	detector := newDetector(store, nil)

	before := detector.Detect(ctx, "owner-1", "abc123", "n")
	require.Len(t, before.Exact, 1)

	_, err := dedupe.NewLedger(store).Record(ctx, "owner-1", "abc123", "abc123", "d1.pdf", "n.pdf", "")
	require.NoError(t, err)

	after := detector.Detect(ctx, "owner-1", "abc123", "n")
	assert.Empty(t, after.Exact)
	assert.Empty(t, after.Similar)
}

func TestDetect_SuppressionOnlyAffectsItsPair(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abcdef", 0)
	addDoc(t, store, "owner-1", "d2", "abcdee", 1)
	ctx := context.Background()

	_, err := dedupe.NewLedger(store).Record(ctx, "owner-1", "abcdee", "abcdef", "", "", "")
	require.NoError(t, err)

	result := newDetector(store, nil).Detect(ctx, "owner-1", "abcdef", "n")
	assert.Equal(t, []string{"d1"}, matchIDs(result.Exact))
	assert.Equal(t, []string{"d1"}, matchIDs(result.Similar), "d2 would score 83 but its pair is suppressed")
}

func TestDetect_SuppressionFromOtherOwnerIgnored(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abc123", 0)
	ctx := context.Background()

	_, err := dedupe.NewLedger(store).Record(ctx, "owner-2", "abc123", "abc123", "", "", "")
	require.NoError(t, err)

	result := newDetector(store, nil).Detect(ctx, "owner-1", "abc123", "n")
	assert.Equal(t, []string{"d1"}, matchIDs(result.Exact))
}

func TestDetect_LowSimilarityExcluded(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "bbbb1111", 0)

	result := newDetector(store, nil).Detect(context.Background(), "owner-1", "aaaa0000", "n")
	assert.Empty(t, result.Exact)
	assert.Empty(t, result.Similar)
	assert.NotNil(t, result.Exact)
	assert.NotNil(t, result.Similar)
}

func TestDetect_ThresholdIsInclusive(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "seventy", "0000000fff", 0)
	addDoc(t, store, "owner-1", "sixty", "000000ffff", 1)

	result := newDetector(store, nil).Detect(context.Background(), "owner-1", "0000000000", "n")
	require.Len(t, result.Similar, 1)
	assert.Equal(t, "seventy", result.Similar[0].DocumentID)
	assert.Equal(t, 70, result.Similar[0].MatchPercentage)
}

func TestDetect_TopFiveSortedWithStableTies(t *testing.T) {
	store := storage.NewMemoryStore()
	newHash := "0000000000"
	// c_i differs from newHash in its last i%4 characters, so scores cycle
	// 100, 90, 80, 70. Larger i means newer.
	for i := 0; i < 10; i++ {
		m := i % 4
		hash := newHash[:10-m] + strings.Repeat("f", m)
		addDoc(t, store, "owner-1", "c"+string(rune('0'+i)), hash, i)
	}

	result := newDetector(store, nil).Detect(context.Background(), "owner-1", newHash, "n")

	require.Len(t, result.Similar, 5)
	assert.Equal(t, []string{"c8", "c4", "c0", "c9", "c5"}, matchIDs(result.Similar))
	scores := make([]int, 0, 5)
	for _, m := range result.Similar {
		scores = append(scores, m.MatchPercentage)
	}
	assert.Equal(t, []int{100, 100, 100, 90, 90}, scores)
	assert.Equal(t, []string{"c8", "c4", "c0"}, matchIDs(result.Exact))
}

func TestDetect_OwnerScopedAndExcludesSelf(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "n", "abc123", 2)
	addDoc(t, store, "owner-2", "foreign", "abc123", 0)
	addDoc(t, store, "owner-1", "pending", "", 1)

	result := newDetector(store, nil).Detect(context.Background(), "owner-1", "abc123", "n")
	assert.Empty(t, result.Exact)
	assert.Empty(t, result.Similar)
}

func TestScan_SkipsUnhashedCandidates(t *testing.T) {
	corpus := staticCorpus{
		{ID: "unhashed", OwnerID: "owner-1"},
		{ID: "d1", OwnerID: "owner-1", ContentHash: model.StringPtr("abc123")},
	}
	store := storage.NewMemoryStore()
	detector := dedupe.NewDetector(corpus, dedupe.NewLedger(store), dedupe.DetectorConfig{})

	result, err := detector.Scan(context.Background(), "owner-1", "abc123", "n")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, matchIDs(result.Exact))
	assert.Equal(t, []string{"d1"}, matchIDs(result.Similar))
}

func TestScan_EmptyCandidateHashScoresZero(t *testing.T) {
	corpus := staticCorpus{{ID: "blank", OwnerID: "owner-1", ContentHash: model.StringPtr("")}}
	detector := dedupe.NewDetector(corpus, dedupe.NewLedger(storage.NewMemoryStore()), dedupe.DetectorConfig{})

	result, err := detector.Scan(context.Background(), "owner-1", "abc123", "n")
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestScan_RejectsEmptyHash(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := newDetector(store, nil).Scan(context.Background(), "owner-1", "", "n")
	assert.ErrorIs(t, err, dedupe.ErrInvalidInput)
}

func TestDetect_FailureReturnsEmptyResult(t *testing.T) {
	sink := &recordingSink{}
	detector := dedupe.NewDetector(failingCorpus{}, dedupe.NewLedger(storage.NewMemoryStore()), dedupe.DetectorConfig{Events: sink})
	ctx := context.Background()

	_, err := detector.Scan(ctx, "owner-1", "abc123", "n")
	var se *dedupe.StorageError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, errBackend)

	result := detector.Detect(ctx, "owner-1", "abc123", "n")
	assert.True(t, result.Empty())
	assert.NotNil(t, result.Exact)
	assert.Contains(t, sink.actions(), model.ActionScanFailed)
}

func TestDetect_EmitsScanEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abc123", 0)
	sink := &recordingSink{}

	newDetector(store, sink).Detect(context.Background(), "owner-1", "abc123", "n")

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, model.ActionScan, ev.Action)
	assert.Equal(t, "owner-1", ev.OwnerID)
	assert.Equal(t, "n", ev.SubjectDocumentID)
	assert.Equal(t, 1, ev.Payload["exact"])
}

func TestDetect_SinkFailureDoesNotAffectResult(t *testing.T) {
	store := storage.NewMemoryStore()
	addDoc(t, store, "owner-1", "d1", "abc123", 0)
	sink := &recordingSink{err: errors.New("sink down")}

	result := newDetector(store, sink).Detect(context.Background(), "owner-1", "abc123", "n")
	assert.Equal(t, []string{"d1"}, matchIDs(result.Exact))
}

func TestDetect_ConfigurableLimits(t *testing.T) {
	store := storage.NewMemoryStore()
	for i := 0; i < 4; i++ {
		addDoc(t, store, "owner-1", "d"+string(rune('0'+i)), "abc123", i)
	}
	detector := dedupe.NewDetector(store, dedupe.NewLedger(store), dedupe.DetectorConfig{
		CandidateLimit: 3,
		SimilarLimit:   2,
	})

	result := detector.Detect(context.Background(), "owner-1", "abc123", "n")
	assert.Equal(t, []string{"d3", "d2", "d1"}, matchIDs(result.Exact))
	assert.Equal(t, []string{"d3", "d2"}, matchIDs(result.Similar))
}
