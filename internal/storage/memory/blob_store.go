// Package memory holds in-process implementations of the store contracts for
// development runs and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// BlobStore keeps archived snapshots in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject copies the content under path.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	s.mu.Lock()
	s.data[path] = payload
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Get returns the object stored under path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.data[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.data))
	for p := range s.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
