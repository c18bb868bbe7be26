package devicecache

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Store held in process memory. Entries are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// List returns every entry, oldest update first.
func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// Get returns the entry for an external id.
func (m *Memory) Get(_ context.Context, externalID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	e, ok := m.entries[externalID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Put inserts or replaces an entry.
func (m *Memory) Put(_ context.Context, e Entry) error {
	if err := validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[e.ExternalID] = stamp(e)
	return nil
}

// Remove deletes an entry.
func (m *Memory) Remove(_ context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, externalID)
	return nil
}

// PeripheralFor returns the radio identifier stored for an external id.
func (m *Memory) PeripheralFor(ctx context.Context, externalID string) (string, error) {
	e, err := m.Get(ctx, externalID)
	if err != nil {
		return "", err
	}
	return e.PeripheralID, nil
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
