package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-process Store for development and tests.
// Objects live in a map; contents are copied on the way in and out so
// callers cannot alias the stored slice.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	logger  Logger
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore(logger Logger) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		logger:  logger,
	}
}

// Put writes data under key
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("blob key is required")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = buf
	s.mu.Unlock()

	s.logger.Debug("memory blob PUT", "key", key, "bytes", len(data))
	return nil
}

// Get opens the object at key
func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.logger.Debug("memory blob GET", "key", key, "bytes", len(buf))
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Delete removes the object at key; missing keys are a no-op
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	s.logger.Debug("memory blob DELETE", "key", key)
	return nil
}

// Health always succeeds for the in-memory store
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Len returns the number of stored objects (test helper)
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
