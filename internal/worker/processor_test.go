package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
	"github.com/dharsanguruparan/dupeguard/internal/storage"
)

type stubFingerprinter struct {
	err   error
	calls []string
}

func (s *stubFingerprinter) Fingerprint(ctx context.Context, documentID string) (*ingest.Outcome, error) {
	s.calls = append(s.calls, documentID)
	if s.err != nil {
		return nil, s.err
	}
	return &ingest.Outcome{Document: &model.Document{ID: documentID}, Result: model.EmptyResult()}, nil
}

func fingerprintTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, err := queue.NewFingerprintTask(queue.FingerprintPayload{DocumentID: id, OwnerID: "o1", ObjectKey: "k"})
	require.NoError(t, err)
	return task
}

func TestHandleFingerprint(t *testing.T) {
	stub := &stubFingerprinter{}
	p := NewProcessor(stub, nil, nil)

	require.NoError(t, p.handleFingerprint(context.Background(), fingerprintTask(t, "doc-1")))
	assert.Equal(t, []string{"doc-1"}, stub.calls)
}

func TestHandleFingerprint_ErrorPolicy(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"missing document", dedupe.ErrNotFound, true},
		{"empty content", dedupe.ErrInvalidInput, true},
		{"owner busy", dedupe.ErrOwnerBusy, false},
		{"storage failure", &dedupe.StorageError{Op: "get document", Err: errors.New("down")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProcessor(&stubFingerprinter{err: tc.err}, nil, nil)
			err := p.handleFingerprint(context.Background(), fingerprintTask(t, "doc-1"))
			require.Error(t, err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleFingerprint_BadPayload(t *testing.T) {
	stub := &stubFingerprinter{}
	p := NewProcessor(stub, nil, nil)
	err := p.handleFingerprint(context.Background(), asynq.NewTask(queue.FingerprintDocumentTask, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, stub.calls)
}

func TestHandleEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	p := NewProcessor(&stubFingerprinter{}, store, nil)

	task, err := queue.NewEventTask(model.Event{ID: "e1", OwnerID: "o1", Action: model.ActionDeleted})
	require.NoError(t, err)
	require.NoError(t, p.handleEvent(context.Background(), task))

	evs := store.Events("o1")
	require.Len(t, evs, 1)
	assert.Equal(t, model.ActionDeleted, evs[0].Action)

	err = p.handleEvent(context.Background(), asynq.NewTask(queue.RecordEventTask, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleEvent_LogOnly(t *testing.T) {
	p := NewProcessor(&stubFingerprinter{}, nil, nil)
	task, err := queue.NewEventTask(model.Event{ID: "e1", OwnerID: "o1", Action: model.ActionScan})
	require.NoError(t, err)
	assert.NoError(t, p.handleEvent(context.Background(), task))
}

func TestHandlerRoutes(t *testing.T) {
	stub := &stubFingerprinter{}
	mux := NewProcessor(stub, nil, nil).Handler()
	require.NoError(t, mux.ProcessTask(context.Background(), fingerprintTask(t, "doc-9")))
	assert.Equal(t, []string{"doc-9"}, stub.calls)
}
