package audit

import (
	"context"
	"errors"
	"fmt"

	"crm-platform/pkg/logger"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

var ErrInvalidQuery = errors.New("audit: invalid query")

// Filters are AND-combined. Zero values mean "no constraint". Dates are epoch
// milliseconds and inclusive.
type Filters struct {
	Severity   Severity
	EntityType EntityType
	Action     Action
	ActorID    string
	StartDate  int64
	EndDate    int64
}

// ListQuery is what the query service hands to a repository.
type ListQuery struct {
	OrganizationID string
	Filters        Filters
	After          *Cursor
	Limit          int
}

type Page struct {
	Logs       []Entry `json:"logs"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasMore    bool    `json:"has_more"`
}

type ActorOption struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type ActorType `json:"type"`
}

// FilterOptions are the values actually present in an organization's log.
type FilterOptions struct {
	EntityTypes []EntityType  `json:"entity_types"`
	Actions     []Action      `json:"actions"`
	Actors      []ActorOption `json:"actors"`
}

func (o FilterOptions) empty() bool {
	return len(o.EntityTypes) == 0 && len(o.Actions) == 0 && len(o.Actors) == 0
}

// FilterSource serves filter options, typically from a maintained index.
type FilterSource interface {
	AvailableFilters(ctx context.Context, organizationID string) (FilterOptions, error)
}

// QueryService is the read side of the audit trail.
type QueryService struct {
	repo        Repository
	filters     FilterSource
	pageSize    int
	maxPageSize int
}

type QueryOption func(*QueryService)

// WithPageSize sets the default and maximum page size. max is capped at
// MaxPageSize.
func WithPageSize(def, max int) QueryOption {
	return func(q *QueryService) {
		if max > 0 && max <= MaxPageSize {
			q.maxPageSize = max
		}
		if def > 0 {
			q.pageSize = def
		}
		if q.pageSize > q.maxPageSize {
			q.pageSize = q.maxPageSize
		}
	}
}

func WithFilterSource(src FilterSource) QueryOption {
	return func(q *QueryService) { q.filters = src }
}

func NewQueryService(repo Repository, opts ...QueryOption) *QueryService {
	q := &QueryService{repo: repo, pageSize: DefaultPageSize, maxPageSize: MaxPageSize}
	for _, o := range opts {
		o(q)
	}
	return q
}

// List returns one page of organizationID's entries, newest first. An empty
// result is not an error.
func (q *QueryService) List(ctx context.Context, organizationID string, f Filters, cursor string, limit int) (Page, error) {
	if organizationID == "" {
		return Page{}, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}
	if err := f.validate(); err != nil {
		return Page{}, err
	}

	lq := ListQuery{OrganizationID: organizationID, Filters: f, Limit: q.clamp(limit)}
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		lq.After = &c
	}

	if f.StartDate > 0 && f.EndDate > 0 && f.StartDate > f.EndDate {
		return Page{Logs: []Entry{}}, nil
	}

	want := lq.Limit
	lq.Limit = want + 1
	rows, err := q.repo.List(ctx, lq)
	if err != nil {
		return Page{}, err
	}

	page := Page{Logs: rows}
	if len(rows) > want {
		page.Logs = rows[:want]
		page.HasMore = true
		page.NextCursor = CursorOf(page.Logs[want-1]).Encode()
	}
	if page.Logs == nil {
		page.Logs = []Entry{}
	}
	return page, nil
}

// FilterBackfiller is implemented by filter sources that can be rebuilt
// from the repository's answer.
type FilterBackfiller interface {
	Backfill(ctx context.Context, organizationID string, opts FilterOptions) error
}

// AvailableFilters lists the entity types, actions and actors present in the
// organization's log. A configured index answers only while it is complete;
// otherwise the repository answers and the index is backfilled from it.
func (q *QueryService) AvailableFilters(ctx context.Context, organizationID string) (FilterOptions, error) {
	if organizationID == "" {
		return FilterOptions{}, fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}
	if q.filters == nil {
		return q.repo.Distinct(ctx, organizationID)
	}

	opts, err := q.filters.AvailableFilters(ctx, organizationID)
	switch {
	case err == nil && !opts.empty():
		return opts, nil
	case err != nil && !errors.Is(err, ErrIndexIncomplete):
		logger.From(ctx).Warn("audit filter index unavailable, using repository", "err", err)
	}

	opts, err = q.repo.Distinct(ctx, organizationID)
	if err != nil {
		return FilterOptions{}, err
	}
	if b, ok := q.filters.(FilterBackfiller); ok {
		if err := b.Backfill(ctx, organizationID, opts); err != nil {
			logger.From(ctx).Warn("audit filter index backfill failed", "organization_id", organizationID, "err", err)
		}
	}
	return opts, nil
}

func (q *QueryService) clamp(limit int) int {
	if limit <= 0 {
		return q.pageSize
	}
	if limit > q.maxPageSize {
		return q.maxPageSize
	}
	return limit
}

func (f Filters) validate() error {
	if f.Severity != "" && !f.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidQuery, f.Severity)
	}
	if f.StartDate < 0 || f.EndDate < 0 {
		return fmt.Errorf("%w: dates must be positive", ErrInvalidQuery)
	}
	return nil
}

// Matches reports whether e satisfies every set filter. Repositories without
// a query language use it.
func (f Filters) Matches(e Entry) bool {
	switch {
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.StartDate > 0 && e.CreatedAt < f.StartDate:
		return false
	case f.EndDate > 0 && e.CreatedAt > f.EndDate:
		return false
	}
	return true
}
