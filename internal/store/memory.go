package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"r2mig/internal/r2mig"
)

type memObject struct {
	data     []byte
	modified time.Time
}

// MemoryStore is an in-memory implementation of r2mig.ObjectStore.
// It is useful for tests and dry experiments, and is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]r2mig.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []r2mig.ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, r2mig.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, r2mig.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: m.now()}
	return nil
}

func (m *MemoryStore) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("copy %s: %w", src, r2mig.ErrObjectNotFound)
	}
	m.objects[dst] = memObject{data: append([]byte(nil), obj.data...), modified: m.now()}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (*r2mig.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, r2mig.ErrObjectNotFound)
	}
	return &r2mig.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Compile-time check that MemoryStore implements r2mig.ObjectStore
var _ r2mig.ObjectStore = (*MemoryStore)(nil)
