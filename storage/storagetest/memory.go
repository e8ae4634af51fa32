// Package storagetest provides an in-memory object store for tests.
package storagetest

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/mbolis/quick-forms/storage"
)

type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPut makes every Put fail with this error when set.
	FailPut error
}

var _ storage.Storage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return errors.New("object exists: " + key)
	}
	m.objects[key] = b
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return storage.ErrNotExist
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) URL(ctx context.Context, key string) (string, error) {
	return "mem://" + key, nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys lists the stored keys in lexical order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
