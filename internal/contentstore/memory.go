package contentstore

import (
	"context"
	"sync"

	"github.com/example/imgclassify/internal/pipeline"
)

// MemoryBackend keeps content in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	blobs  map[pipeline.Fingerprint][]byte
	writes int
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[pipeline.Fingerprint][]byte)}
}

func (m *MemoryBackend) Exists(ctx context.Context, fp pipeline.Fingerprint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[fp]
	return ok, nil
}

func (m *MemoryBackend) Write(ctx context.Context, fp pipeline.Fingerprint, content []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[fp]; ok {
		return false, nil
	}
	m.blobs[fp] = append([]byte(nil), content...)
	m.writes++
	return true, nil
}

func (m *MemoryBackend) Read(ctx context.Context, fp pipeline.Fingerprint) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[fp]
	if !ok {
		return nil, pipeline.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Writes returns how many blobs have been written.
func (m *MemoryBackend) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Len returns the number of distinct blobs stored.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
