package blobstore

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const memoryChunkSize = 32 * 1024

// MemoryStore keeps blobs in-process. Uploads copy chunk by chunk and
// honor context cancellation between chunks, which is what lets tests
// exercise in-flight cancellation deterministically.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string][]byte

	// Gate, when set, is closed by the test to release uploads held at
	// the first chunk boundary.
	Gate chan struct{}
}

// NewMemoryStore initializes an empty in-memory blob store.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

// Upload copies the payload, reporting progress per chunk.
func (m *MemoryStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) (Object, error) {
	var buf []byte
	chunk := make([]byte, memoryChunkSize)
	var done int64
	for {
		if m.Gate != nil {
			select {
			case <-m.Gate:
			case <-ctx.Done():
				return Object{}, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return Object{}, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			done += int64(n)
			if progress != nil {
				progress(done, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Object{}, fmt.Errorf("read payload: %w", err)
		}
	}
	m.mu.Lock()
	m.objects[path] = buf
	m.mu.Unlock()
	return Object{Bucket: m.bucket, Path: path, Size: done}, nil
}

// PutString stores a decoded data-URI payload.
func (m *MemoryStore) PutString(ctx context.Context, path, dataURI string) (Object, error) {
	_, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	m.objects[path] = data
	m.mu.Unlock()
	return Object{Bucket: m.bucket, Path: path, Size: int64(len(data))}, nil
}

// GetBytes returns a copy of the stored object.
func (m *MemoryStore) GetBytes(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes the object if present.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

// Has reports whether an object exists, for tests.
func (m *MemoryStore) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}
