package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface,
// useful for testing. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, w io.Writer) error {
	s.mu.RLock()
	data, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *MemoryStore) Move(ctx context.Context, fromKey, toKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[fromKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, fromKey)
	}
	s.blobs[toKey] = data
	delete(s.blobs, fromKey)
	return nil
}

// SecureDelete zeroes the stored bytes before dropping them. Memory offers
// no overwrite guarantee; this exists so tests can observe the call.
func (s *MemoryStore) SecureDelete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.blobs[key]; ok {
		for i := range data {
			data[i] = 0
		}
	}
	delete(s.blobs, key)
	return nil
}

// Len reports the number of stored blobs. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
