package resource

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryRepository is a thread-safe Repository. Stored values are private
// copies; writes replace the whole record under the lock, so readers never
// observe a partially-updated resource.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*CommunityResource
	// insertion order for deterministic listing
	order []string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*CommunityResource)}
}

func (m *InMemoryRepository) Create(_ context.Context, r *CommunityResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; ok {
		return fmt.Errorf("resource %s already exists", r.ID)
	}
	m.items[r.ID] = r.Clone()
	m.order = append(m.order, r.ID)
	return nil
}

func (m *InMemoryRepository) GetByID(_ context.Context, id string) (*CommunityResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *InMemoryRepository) GetByExternalID(_ context.Context, provider, externalID string) (*CommunityResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		r := m.items[id]
		if r.SourceProvider != nil && *r.SourceProvider == provider &&
			r.ExternalID != nil && *r.ExternalID == externalID {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemoryRepository) Update(_ context.Context, r *CommunityResource) error {
	next := r.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return ErrNotFound
	}
	m.items[r.ID] = next
	return nil
}

func (m *InMemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	for i, rid := range m.order {
		if rid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *InMemoryRepository) List(_ context.Context, filter ListFilter) ([]*CommunityResource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CommunityResource, 0, len(m.order))
	for _, id := range m.order {
		r := m.items[id]
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		if filter.Category != nil && r.Category != *filter.Category {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}
