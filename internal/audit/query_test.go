package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// seed records n entries for org, one millisecond apart starting at base.
func seed(t *testing.T, w *Writer, clock *time.Time, org string, n int, mutate func(i int, in *RecordInput)) {
	t.Helper()
	for i := 0; i < n; i++ {
		in := moveInput()
		in.OrganizationID = org
		in.EntityID = fmt.Sprintf("lead-%d", i)
		if mutate != nil {
			mutate(i, &in)
		}
		if _, err := w.Record(context.Background(), in); err != nil {
			t.Fatalf("record: %v", err)
		}
		*clock = clock.Add(time.Millisecond)
	}
}

func newQueryFixture() (*MemoryRepo, *Writer, *time.Time) {
	repo := NewMemoryRepo()
	now := fixedNow
	w := NewWriter(repo, WithClock(func() time.Time { return now }))
	return repo, w, &now
}

func TestList_TenantIsolation(t *testing.T) {
	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-a", 3, nil)
	seed(t, w, clock, "org-b", 2, nil)

	q := NewQueryService(repo)
	page, err := q.List(context.Background(), "org-b", Filters{}, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Logs))
	}
	for _, e := range page.Logs {
		if e.OrganizationID != "org-b" {
			t.Fatalf("leaked entry from %s", e.OrganizationID)
		}
	}

	if _, err := q.List(context.Background(), "", Filters{}, "", 0); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected organization to be required, got %v", err)
	}
}

func TestList_PaginationCompleteUnderConcurrentInserts(t *testing.T) {
	repo, w, clock := newQueryFixture()
	// Several entries share a timestamp so the id tie-break matters.
	seed(t, w, clock, "org-1", 7, nil)
	sameMs := *clock
	for i := 0; i < 5; i++ {
		in := moveInput()
		in.EntityID = fmt.Sprintf("tie-%d", i)
		*clock = sameMs
		if _, err := w.Record(context.Background(), in); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	*clock = clock.Add(time.Millisecond)

	q := NewQueryService(repo)
	seen := map[string]bool{}
	var order []Entry
	cursor := ""
	for pages := 0; ; pages++ {
		page, err := q.List(context.Background(), "org-1", Filters{}, cursor, 3)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, e := range page.Logs {
			if seen[e.ID] {
				t.Fatalf("duplicate entry %s", e.ID)
			}
			seen[e.ID] = true
			order = append(order, e)
		}
		// New writes between page fetches land on top and must not disturb paging.
		seed(t, w, clock, "org-1", 1, nil)
		if !page.HasMore {
			break
		}
		if pages > 10 {
			t.Fatalf("pagination did not terminate")
		}
		cursor = page.NextCursor
	}

	if len(order) != 12 {
		t.Fatalf("expected the 12 original entries, got %d", len(order))
	}
	for i := 1; i < len(order); i++ {
		prev, cur := order[i-1], order[i]
		if cur.CreatedAt > prev.CreatedAt || (cur.CreatedAt == prev.CreatedAt && cur.ID >= prev.ID) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}

func TestList_FiltersAndEmptyResult(t *testing.T) {
	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 4, func(i int, in *RecordInput) {
		if i%2 == 0 {
			in.Severity = SeverityHigh
			in.Actor = Actor{ID: "bot-1", Type: ActorAI, Name: "Assistente"}
		}
	})

	q := NewQueryService(repo)
	page, err := q.List(context.Background(), "org-1", Filters{Severity: SeverityHigh, ActorID: "bot-1"}, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Logs) != 2 || page.HasMore {
		t.Fatalf("expected 2 high entries by bot-1, got %d", len(page.Logs))
	}

	page, err = q.List(context.Background(), "org-1", Filters{Severity: SeverityCritical}, "", 0)
	if err != nil {
		t.Fatalf("empty filter result must not be an error: %v", err)
	}
	if len(page.Logs) != 0 || page.HasMore || page.NextCursor != "" {
		t.Fatalf("expected empty page, got %+v", page)
	}
	if page.Logs == nil {
		t.Fatalf("expected empty slice, not nil")
	}

	start := fixedNow.UnixMilli() + 1
	end := fixedNow.UnixMilli() + 2
	page, err = q.List(context.Background(), "org-1", Filters{StartDate: start, EndDate: end}, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Logs) != 2 {
		t.Fatalf("expected inclusive date range to match 2 entries, got %d", len(page.Logs))
	}

	page, err = q.List(context.Background(), "org-1", Filters{StartDate: end, EndDate: start}, "", 0)
	if err != nil || len(page.Logs) != 0 {
		t.Fatalf("inverted range should be empty, got %d entries err=%v", len(page.Logs), err)
	}

	if _, err := q.List(context.Background(), "org-1", Filters{Severity: Severity("urgent")}, "", 0); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestList_PageSizeBounds(t *testing.T) {
	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 120, nil)

	q := NewQueryService(repo)
	page, err := q.List(context.Background(), "org-1", Filters{}, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Logs) != DefaultPageSize || !page.HasMore {
		t.Fatalf("expected default page of %d, got %d", DefaultPageSize, len(page.Logs))
	}

	page, err = q.List(context.Background(), "org-1", Filters{}, "", 1000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Logs) != MaxPageSize {
		t.Fatalf("expected page capped at %d, got %d", MaxPageSize, len(page.Logs))
	}

	q = NewQueryService(repo, WithPageSize(10, 20))
	page, _ = q.List(context.Background(), "org-1", Filters{}, "", 50)
	if len(page.Logs) != 20 {
		t.Fatalf("expected configured max of 20, got %d", len(page.Logs))
	}
}

func TestList_InvalidCursor(t *testing.T) {
	q := NewQueryService(NewMemoryRepo())
	if _, err := q.List(context.Background(), "org-1", Filters{}, "%%%", 0); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: 1700000000123, ID: "01HZX"}
	got, err := DecodeCursor(c.Encode())
	if err != nil || got != c {
		t.Fatalf("round trip failed: %+v %v", got, err)
	}
}

func TestAvailableFilters_OnlyPresentValues(t *testing.T) {
	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 2, nil)
	seed(t, w, clock, "org-1", 1, func(_ int, in *RecordInput) {
		in.Action = ActionDelete
		in.Subject = ContactSubject{Name: "Maria"}
		in.Changes = nil
		in.Actor = Actor{ID: "bot-1", Type: ActorAI, Name: "Assistente"}
	})
	seed(t, w, clock, "org-2", 1, func(_ int, in *RecordInput) {
		in.Subject = WebhookSubject{URL: "https://x"}
	})

	q := NewQueryService(repo)
	opts, err := q.AvailableFilters(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if len(opts.EntityTypes) != 2 || opts.EntityTypes[0] != EntityContact || opts.EntityTypes[1] != EntityLead {
		t.Fatalf("unexpected entity types %v", opts.EntityTypes)
	}
	if len(opts.Actions) != 2 {
		t.Fatalf("unexpected actions %v", opts.Actions)
	}
	if len(opts.Actors) != 2 || opts.Actors[0].ID != "bot-1" || opts.Actors[0].Type != ActorAI {
		t.Fatalf("unexpected actors %+v", opts.Actors)
	}
}

type failingSource struct{}

func (failingSource) AvailableFilters(context.Context, string) (FilterOptions, error) {
	return FilterOptions{}, errors.New("redis down")
}

func TestAvailableFilters_FallsBackToRepository(t *testing.T) {
	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 1, nil)

	q := NewQueryService(repo, WithFilterSource(failingSource{}))
	opts, err := q.AvailableFilters(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if len(opts.EntityTypes) != 1 {
		t.Fatalf("expected repository fallback, got %+v", opts)
	}
}
