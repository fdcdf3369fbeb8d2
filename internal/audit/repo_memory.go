package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crm-platform/internal/store"
)

// MemoryRepo is an in-memory append-only repository for tests and local runs.
// Inserts made inside a store transaction are removed again if it rolls back.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) error {
	if e.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id required", ErrInvalidEntry)
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	store.OnRollback(ctx, func() { r.remove(e.ID) })
	return nil
}

func (r *MemoryRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *MemoryRepo) List(ctx context.Context, q ListQuery) ([]Entry, error) {
	if q.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}

	r.mu.Lock()
	var out []Entry
	for _, e := range r.entries {
		if e.OrganizationID != q.OrganizationID {
			continue
		}
		if !q.Filters.Matches(e) {
			continue
		}
		if q.After != nil && !q.After.Before(e) {
			continue
		}
		out = append(out, e)
	}
	r.mu.Unlock()

	sortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) Distinct(ctx context.Context, organizationID string) (FilterOptions, error) {
	if organizationID == "" {
		return FilterOptions{}, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entityTypes := map[EntityType]struct{}{}
	actions := map[Action]struct{}{}
	actors := map[string]Entry{}
	for _, e := range r.entries {
		if e.OrganizationID != organizationID {
			continue
		}
		entityTypes[e.EntityType] = struct{}{}
		actions[e.Action] = struct{}{}
		if e.ActorID == "" {
			continue
		}
		if prev, ok := actors[e.ActorID]; !ok || e.CreatedAt >= prev.CreatedAt {
			actors[e.ActorID] = e
		}
	}

	var out FilterOptions
	for et := range entityTypes {
		out.EntityTypes = append(out.EntityTypes, et)
	}
	for a := range actions {
		out.Actions = append(out.Actions, a)
	}
	for id, e := range actors {
		out.Actors = append(out.Actors, ActorOption{ID: id, Name: e.ActorName, Type: e.ActorType})
	}
	sortOptions(&out)
	return out, nil
}

// Entries returns every stored entry in insertion order.
func (r *MemoryRepo) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt > entries[j].CreatedAt
		}
		return entries[i].ID > entries[j].ID
	})
}

func sortOptions(o *FilterOptions) {
	sort.Slice(o.EntityTypes, func(i, j int) bool { return o.EntityTypes[i] < o.EntityTypes[j] })
	sort.Slice(o.Actions, func(i, j int) bool { return o.Actions[i] < o.Actions[j] })
	sort.Slice(o.Actors, func(i, j int) bool { return o.Actors[i].ID < o.Actors[j].ID })
}
