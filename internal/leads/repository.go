package leads

import (
	"context"
	"fmt"
	"sync"

	"crm-platform/internal/store"
)

// Repository persists leads, scoped by organization. Update and Delete are
// guarded by the version the caller read; a stale version is ErrConflict.
type Repository interface {
	Get(ctx context.Context, organizationID, id string) (Lead, error)
	Create(ctx context.Context, l Lead) error
	Update(ctx context.Context, l Lead) (Lead, error)
	Delete(ctx context.Context, organizationID, id string, version int64) error
}

// StageDirectory resolves pipeline stage names for descriptions.
type StageDirectory interface {
	StageName(ctx context.Context, organizationID, stageID string) (string, error)
}

// MemberDirectory resolves assignee names for descriptions.
type MemberDirectory interface {
	MemberName(ctx context.Context, organizationID, memberID string) (string, error)
}

type MemoryRepo struct {
	mu    sync.RWMutex
	leads map[string]Lead
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{leads: map[string]Lead{}}
}

func (r *MemoryRepo) Get(_ context.Context, organizationID, id string) (Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.leads[id]
	if !ok || l.OrganizationID != organizationID {
		return Lead{}, fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	return copyLead(l), nil
}

func (r *MemoryRepo) Create(ctx context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[l.ID]; ok {
		return fmt.Errorf("lead %s already exists: %w", l.ID, store.ErrConflict)
	}
	if l.Version == 0 {
		l.Version = 1
	}
	r.leads[l.ID] = copyLead(l)
	store.OnRollback(ctx, func() { r.drop(l.ID) })
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, l Lead) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, err := r.current(l.OrganizationID, l.ID, l.Version)
	if err != nil {
		return Lead{}, err
	}
	l.Version++
	r.leads[l.ID] = copyLead(l)
	store.OnRollback(ctx, func() { r.restore(prev) })
	return copyLead(l), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, organizationID, id string, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, err := r.current(organizationID, id, version)
	if err != nil {
		return err
	}
	delete(r.leads, id)
	store.OnRollback(ctx, func() { r.restore(prev) })
	return nil
}

// current must be called with mu held.
func (r *MemoryRepo) current(organizationID, id string, version int64) (Lead, error) {
	prev, ok := r.leads[id]
	if !ok || prev.OrganizationID != organizationID {
		return Lead{}, fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	if prev.Version != version {
		return Lead{}, fmt.Errorf("lead %s at version %d: %w", id, version, store.ErrConflict)
	}
	return prev, nil
}

func (r *MemoryRepo) restore(l Lead) {
	r.mu.Lock()
	r.leads[l.ID] = l
	r.mu.Unlock()
}

func (r *MemoryRepo) drop(id string) {
	r.mu.Lock()
	delete(r.leads, id)
	r.mu.Unlock()
}

func copyLead(l Lead) Lead {
	l.Tags = append([]string(nil), l.Tags...)
	l.CustomFields = cloneFields(l.CustomFields)
	return l
}

// MemoryStages is a StageDirectory backed by a map.
type MemoryStages struct {
	mu     sync.RWMutex
	stages map[string]map[string]string
}

func NewMemoryStages() *MemoryStages {
	return &MemoryStages{stages: map[string]map[string]string{}}
}

func (s *MemoryStages) Add(organizationID, stageID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stages[organizationID] == nil {
		s.stages[organizationID] = map[string]string{}
	}
	s.stages[organizationID][stageID] = name
}

func (s *MemoryStages) StageName(_ context.Context, organizationID, stageID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.stages[organizationID][stageID]
	if !ok {
		return "", fmt.Errorf("stage %s: %w", stageID, store.ErrNotFound)
	}
	return name, nil
}
