package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dataloom-ai/dataloom-engine/pkg/apperrors"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	Objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Objects: make(map[string][]byte)}
}

// Put stores an object.
func (m *MemoryStore) Put(key string, content []byte) {
	m.Objects[key] = content
}

// List returns object keys under the prefix, sorted.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range m.Objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns the full content of one object.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := m.Objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, apperrors.ErrNotFound)
	}
	return content, nil
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)
