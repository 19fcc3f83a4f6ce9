package state

import (
	"context"
	"sync"

	"github.com/mehmetymw/typedupe/internal/stream"
)

// MemoryStore keeps state in process. Used by tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	states map[stream.ID]DestinationState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[stream.ID]DestinationState)}
}

func (m *MemoryStore) Load(_ context.Context, id stream.ID) (DestinationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[id]; ok {
		return st, nil
	}
	return Default(), nil
}

func (m *MemoryStore) Save(_ context.Context, id stream.ID, st DestinationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = st
	return nil
}
