package cart

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps carts in process memory. Carts are lost on restart,
// which matches their session lifetime in single-instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]Snapshot)}
}

func (m *MemoryStore) Add(_ context.Context, session, productID string) error {
	if productID == "" {
		return ErrEmptyProductID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[session]
	if !ok {
		c = make(Snapshot)
		m.carts[session] = c
	}
	c[productID]++
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, session, productID string) error {
	if productID == "" {
		return ErrEmptyProductID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.carts[session]; ok {
		delete(c, productID)
		if len(c) == 0 {
			delete(m.carts, session)
		}
	}
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, session string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.carts[session].Clone(), nil
}

func (m *MemoryStore) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, session)
	return nil
}

func (m *MemoryStore) Subtract(_ context.Context, session string, ordered Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[session]
	if !ok {
		return nil
	}
	for id, qty := range ordered {
		if c[id] -= qty; c[id] <= 0 {
			delete(c, id)
		}
	}
	if len(c) == 0 {
		delete(m.carts, session)
	}
	return nil
}
