package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
)

// BlobStore keeps raw uploads in memory. It satisfies the same object store
// contract as s3storage.Storage.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// UploadRaw stores the object bytes.
func (b *BlobStore) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read object: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey] = data
	return nil
}

// OpenRaw returns a reader over the object bytes.
func (b *BlobStore) OpenRaw(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectKey, dedupe.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// RemoveRaw deletes the object. Missing objects are not an error.
func (b *BlobStore) RemoveRaw(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey)
	return nil
}

// Len returns the number of stored objects.
func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
