package processing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	busy  int
	done  chan string
}

func (r *recorder) Fingerprint(ctx context.Context, id string) (*ingest.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	if r.busy > 0 {
		r.busy--
		r.mu.Unlock()
		return nil, dedupe.ErrOwnerBusy
	}
	r.mu.Unlock()
	r.done <- id
	return &ingest.Outcome{Document: &model.Document{ID: id}}, nil
}

func TestPool_ProcessesJobs(t *testing.T) {
	rec := &recorder{done: make(chan string, 4)}
	p := New(rec, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "a"}))
	require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "b"}))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-rec.done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for job")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)

	cancel()
	p.Wait()
}

func TestPool_RetriesBusyOwnerWithBackoff(t *testing.T) {
	rec := &recorder{busy: 2, done: make(chan string, 1)}
	p := New(rec, 1, nil)
	p.backoff = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	start := time.Now()
	require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "a"}))
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry")
	}
	// Waits of 20ms then 40ms separate the three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"a", "a", "a"}, rec.calls)
}

func TestPool_GivesUpOnPersistentlyBusyOwner(t *testing.T) {
	rec := &recorder{busy: busyRetries + 5, done: make(chan string, 1)}
	p := New(rec, 1, nil)
	p.backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "a"}))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.calls) == busyRetries+1
	}, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.calls, busyRetries+1)
}

func TestPool_BusyRetryStopsOnCancel(t *testing.T) {
	rec := &recorder{busy: 10, done: make(chan string, 1)}
	p := New(rec, 1, nil)
	p.backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "a"}))
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	p.Wait()
}

func TestPool_DropsWhenFull(t *testing.T) {
	p := New(&recorder{}, 1, nil)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "x"}))
	}
	assert.ErrorIs(t, p.Dispatch(ctx, queue.FingerprintPayload{DocumentID: "y"}), ErrQueueFull)
}
