package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisFilterIndex_KeysShareSlotPerOrganization(t *testing.T) {
	idx := NewRedisFilterIndex(nil)
	if got := idx.key("org-1", "actions"); got != "audit:filters:{org-1}:actions" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestActorEncoding(t *testing.T) {
	typ, name := decodeActor(encodeActor(ActorAI, "Assistente | Vendas"))
	if typ != ActorAI || name != "Assistente | Vendas" {
		t.Fatalf("unexpected decode %q %q", typ, name)
	}
	typ, name = decodeActor("legacy")
	if typ != "" || name != "legacy" {
		t.Fatalf("unexpected legacy decode %q %q", typ, name)
	}
}

func TestRedisFilterIndex_UnreachableFallsBackToRepository(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 1, nil)

	q := NewQueryService(repo, WithFilterSource(NewRedisFilterIndex(rdb)))
	opts, err := q.AvailableFilters(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if len(opts.EntityTypes) != 1 || opts.EntityTypes[0] != EntityLead {
		t.Fatalf("expected repository answer, got %+v", opts)
	}
}

func newMiniIndex(t *testing.T) (*miniredis.Miniredis, *RedisFilterIndex) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisFilterIndex(rdb)
}

func TestRedisFilterIndex_BackfillsEntriesWrittenBeforeIndexing(t *testing.T) {
	mr, idx := newMiniIndex(t)

	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 1, func(_ int, in *RecordInput) {
		in.Action = ActionDelete
		in.Changes = nil
	})

	indexed := NewWriter(repo, WithFilterIndex(idx), WithClock(func() time.Time { return *clock }))
	seed(t, indexed, clock, "org-1", 1, func(_ int, in *RecordInput) {
		in.Action = ActionCreate
		in.Subject = ContactSubject{Name: "Maria"}
		in.Changes = nil
	})

	q := NewQueryService(repo, WithFilterSource(idx))
	ctx := context.Background()
	opts, err := q.AvailableFilters(ctx, "org-1")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if len(opts.EntityTypes) != 2 || opts.EntityTypes[0] != EntityContact || opts.EntityTypes[1] != EntityLead {
		t.Fatalf("expected contact and lead, got %v", opts.EntityTypes)
	}
	if len(opts.Actions) != 2 || opts.Actions[0] != ActionCreate || opts.Actions[1] != ActionDelete {
		t.Fatalf("expected create and delete, got %v", opts.Actions)
	}
	if !mr.Exists("audit:filters:{org-1}:complete") {
		t.Fatalf("expected the index to be marked complete after backfill")
	}

	// Served from the index now, including values written after the backfill.
	seed(t, indexed, clock, "org-1", 1, func(_ int, in *RecordInput) {
		in.Action = ActionAssign
	})
	opts, err = idx.AvailableFilters(ctx, "org-1")
	if err != nil {
		t.Fatalf("index read: %v", err)
	}
	if len(opts.Actions) != 3 {
		t.Fatalf("expected assign to be indexed, got %v", opts.Actions)
	}
}

func TestRedisFilterIndex_UntrustedUntilComplete(t *testing.T) {
	mr, idx := newMiniIndex(t)
	ctx := context.Background()

	e := Entry{OrganizationID: "org-1", EntityType: EntityLead, Action: ActionUpdate, ActorID: "m-1", ActorType: ActorHuman, ActorName: "Ana"}
	if err := idx.Observe(ctx, e); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if _, err := idx.AvailableFilters(ctx, "org-1"); !errors.Is(err, ErrIndexIncomplete) {
		t.Fatalf("expected a never-backfilled index to be incomplete, got %v", err)
	}

	if err := idx.Backfill(ctx, "org-1", FilterOptions{EntityTypes: []EntityType{EntityLead}, Actions: []Action{ActionUpdate}}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if _, err := idx.AvailableFilters(ctx, "org-1"); err != nil {
		t.Fatalf("expected complete index, got %v", err)
	}

	mr.FastForward(DefaultIndexTTL + time.Second)
	if _, err := idx.AvailableFilters(ctx, "org-1"); !errors.Is(err, ErrIndexIncomplete) {
		t.Fatalf("expected expired marker to force a rebuild, got %v", err)
	}

	if err := idx.Backfill(ctx, "org-1", FilterOptions{EntityTypes: []EntityType{EntityLead}, Actions: []Action{ActionUpdate}}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	mr.Del("audit:filters:{org-1}:entity_types")
	if _, err := idx.AvailableFilters(ctx, "org-1"); !errors.Is(err, ErrIndexIncomplete) {
		t.Fatalf("expected evicted hashes to force a rebuild, got %v", err)
	}
}

func TestRedisFilterIndex_FailedObserveDropsMarker(t *testing.T) {
	mr, idx := newMiniIndex(t)
	ctx := context.Background()

	if err := idx.Backfill(ctx, "org-1", FilterOptions{Actions: []Action{ActionUpdate}}); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	// A string where a hash belongs makes HINCRBY fail inside the transaction.
	if err := mr.Set("audit:filters:{org-1}:entity_types", "corrupt"); err != nil {
		t.Fatalf("set: %v", err)
	}

	e := Entry{OrganizationID: "org-1", EntityType: EntityLead, Action: ActionUpdate, ActorID: "m-1", ActorType: ActorHuman}
	if err := idx.Observe(ctx, e); err == nil {
		t.Fatalf("expected observe to fail")
	}
	if mr.Exists("audit:filters:{org-1}:complete") {
		t.Fatalf("expected complete marker to be dropped")
	}
}

func TestRedisFilterIndex_SystemActorWithoutIDIsNotAnOption(t *testing.T) {
	mr, idx := newMiniIndex(t)
	ctx := context.Background()

	e := Entry{OrganizationID: "org-1", EntityType: EntityLead, Action: ActionCreate, ActorType: ActorSystem, ActorName: "Importador"}
	if err := idx.Observe(ctx, e); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if mr.Exists("audit:filters:{org-1}:actors") {
		t.Fatalf("expected no actor field for an id-less system entry")
	}

	repo, w, clock := newQueryFixture()
	seed(t, w, clock, "org-1", 1, func(_ int, in *RecordInput) {
		in.Actor = Actor{Type: ActorSystem, Name: "Importador"}
	})
	opts, err := repo.Distinct(ctx, "org-1")
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(opts.Actors) != 0 {
		t.Fatalf("expected no actor options, got %+v", opts.Actors)
	}
}
