package referral

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryRepository is a thread-safe Repository storing private copies.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Referral
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*Referral)}
}

func (m *InMemoryRepository) Create(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; ok {
		return fmt.Errorf("referral %s already exists", r.ID)
	}
	m.items[r.ID] = r.Clone()
	return nil
}

func (m *InMemoryRepository) GetByID(_ context.Context, id string) (*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *InMemoryRepository) Update(_ context.Context, r *Referral, expectedVersion int) error {
	next := r.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.items[r.ID] = next
	return nil
}

// List returns matching referrals, newest referral first.
func (m *InMemoryRepository) List(_ context.Context, f Filter) ([]*Referral, error) {
	m.mu.RLock()
	out := make([]*Referral, 0, len(m.items))
	for _, r := range m.items {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReferredDate.Equal(out[j].ReferredDate) {
			return out[i].ReferredDate.After(out[j].ReferredDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *InMemoryRepository) CountByResource(_ context.Context, resourceID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.items {
		if r.ResourceID == resourceID {
			n++
		}
	}
	return n, nil
}
