package team

import (
	"context"
	"fmt"
	"sync"

	"crm-platform/internal/store"
)

// Repository persists members. Get and Update are always scoped to an
// organization; a member of another organization is ErrNotFound.
type Repository interface {
	Get(ctx context.Context, organizationID, id string) (Member, error)
	Create(ctx context.Context, m Member) error
	// Update writes m if the stored version still equals m.Version and
	// returns the row with its new version. A stale version is ErrConflict.
	Update(ctx context.Context, m Member) (Member, error)
}

// MemoryRepo keeps members in memory. Writes made inside a store transaction
// are undone when it rolls back.
type MemoryRepo struct {
	mu      sync.RWMutex
	members map[string]Member
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{members: map[string]Member{}}
}

func (r *MemoryRepo) Get(_ context.Context, organizationID, id string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok || m.OrganizationID != organizationID {
		return Member{}, fmt.Errorf("member %s: %w", id, store.ErrNotFound)
	}
	m.Override = m.Override.Clone()
	return m, nil
}

func (r *MemoryRepo) Create(ctx context.Context, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID]; ok {
		return fmt.Errorf("member %s already exists: %w", m.ID, store.ErrConflict)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	m.Override = m.Override.Clone()
	r.members[m.ID] = m
	store.OnRollback(ctx, func() { r.delete(m.ID) })
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, m Member) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.members[m.ID]
	if !ok || prev.OrganizationID != m.OrganizationID {
		return Member{}, fmt.Errorf("member %s: %w", m.ID, store.ErrNotFound)
	}
	if prev.Version != m.Version {
		return Member{}, fmt.Errorf("member %s at version %d: %w", m.ID, m.Version, store.ErrConflict)
	}
	m.Version++
	m.Override = m.Override.Clone()
	r.members[m.ID] = m
	store.OnRollback(ctx, func() { r.put(prev) })
	return m, nil
}

func (r *MemoryRepo) put(m Member) {
	r.mu.Lock()
	r.members[m.ID] = m
	r.mu.Unlock()
}

func (r *MemoryRepo) delete(id string) {
	r.mu.Lock()
	delete(r.members, id)
	r.mu.Unlock()
}
