package mirror

import (
	"context"
	"sync"
)

// MemoryMirror is the in-process Mirror used by tests.
type MemoryMirror struct {
	mu      sync.Mutex
	byKey   map[string][]Entry
	maxSize int

	// FailPublish and FailSupersede inject errors for failure-isolation
	// tests.
	FailPublish   error
	FailSupersede error
}

// NewMemory creates an empty in-memory mirror.
func NewMemory() *MemoryMirror {
	return &MemoryMirror{byKey: make(map[string][]Entry), maxSize: defaultCap}
}

// Publish implements Mirror.
func (m *MemoryMirror) Publish(ctx context.Context, handle string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPublish != nil {
		return m.FailPublish
	}
	list := append([]Entry{e}, m.byKey[handle]...)
	if len(list) > m.maxSize {
		list = list[:m.maxSize]
	}
	m.byKey[handle] = list
	return nil
}

// Supersede implements Mirror.
func (m *MemoryMirror) Supersede(ctx context.Context, handle, tempID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSupersede != nil {
		return m.FailSupersede
	}
	list := m.byKey[handle]
	for i := range list {
		if list[i].ID == tempID {
			list[i] = e
			return nil
		}
	}
	m.byKey[handle] = append([]Entry{e}, list...)
	return nil
}

// Recent implements Mirror.
func (m *MemoryMirror) Recent(ctx context.Context, handle string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byKey[handle]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	return append([]Entry(nil), list[:limit]...), nil
}

// Rebuild implements Mirror.
func (m *MemoryMirror) Rebuild(ctx context.Context, handle string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[handle] = append([]Entry(nil), entries...)
	return nil
}
