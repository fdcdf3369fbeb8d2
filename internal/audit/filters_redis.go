package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrIndexIncomplete means the index cannot vouch for an organization: it
// was never backfilled, its marker expired, or an update was lost.
var ErrIndexIncomplete = errors.New("audit: filter index incomplete")

// DefaultIndexTTL bounds how long a backfilled index is trusted before the
// next read rebuilds it from the repository.
const DefaultIndexTTL = 15 * time.Minute

// RedisFilterIndex keeps per-organization counters of the entity types and
// actions present in the log, plus the latest name of every actor. The writer
// feeds it after commit, so aborted mutations never show up as options.
//
// Reads are only answered while the organization's complete marker exists.
// The marker is set by Backfill and dropped whenever an update fails.
type RedisFilterIndex struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisFilterIndex(rdb redis.Cmdable) *RedisFilterIndex {
	return &RedisFilterIndex{rdb: rdb, prefix: "audit:filters", ttl: DefaultIndexTTL}
}

// WithTTL returns a copy of the index that trusts a backfill for ttl.
func (i *RedisFilterIndex) WithTTL(ttl time.Duration) *RedisFilterIndex {
	cp := *i
	if ttl > 0 {
		cp.ttl = ttl
	}
	return &cp
}

func (i *RedisFilterIndex) key(organizationID, kind string) string {
	return fmt.Sprintf("%s:{%s}:%s", i.prefix, organizationID, kind)
}

func (i *RedisFilterIndex) Observe(ctx context.Context, e Entry) error {
	if e.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id required", ErrInvalidEntry)
	}
	pipe := i.rdb.TxPipeline()
	pipe.HIncrBy(ctx, i.key(e.OrganizationID, "entity_types"), string(e.EntityType), 1)
	pipe.HIncrBy(ctx, i.key(e.OrganizationID, "actions"), string(e.Action), 1)
	if e.ActorID != "" {
		pipe.HSet(ctx, i.key(e.OrganizationID, "actors"), e.ActorID, encodeActor(e.ActorType, e.ActorName))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Without the marker the next read goes to the repository and rebuilds.
		if derr := i.rdb.Del(ctx, i.key(e.OrganizationID, "complete")).Err(); derr != nil {
			return errors.Join(err, fmt.Errorf("drop complete marker: %w", derr))
		}
		return err
	}
	return nil
}

// Backfill merges repository options into the index and marks the
// organization complete for the index TTL. Existing fields are kept, so
// entries observed while the repository was read are not lost.
func (i *RedisFilterIndex) Backfill(ctx context.Context, organizationID string, opts FilterOptions) error {
	if organizationID == "" {
		return fmt.Errorf("%w: organization_id required", ErrInvalidQuery)
	}
	pipe := i.rdb.TxPipeline()
	for _, et := range opts.EntityTypes {
		pipe.HIncrBy(ctx, i.key(organizationID, "entity_types"), string(et), 0)
	}
	for _, a := range opts.Actions {
		pipe.HIncrBy(ctx, i.key(organizationID, "actions"), string(a), 0)
	}
	for _, a := range opts.Actors {
		if a.ID == "" {
			continue
		}
		pipe.HSetNX(ctx, i.key(organizationID, "actors"), a.ID, encodeActor(a.Type, a.Name))
	}
	pipe.Set(ctx, i.key(organizationID, "complete"), "1", i.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (i *RedisFilterIndex) AvailableFilters(ctx context.Context, organizationID string) (FilterOptions, error) {
	pipe := i.rdb.Pipeline()
	complete := pipe.Exists(ctx, i.key(organizationID, "complete"))
	entityTypes := pipe.HKeys(ctx, i.key(organizationID, "entity_types"))
	actions := pipe.HKeys(ctx, i.key(organizationID, "actions"))
	actors := pipe.HGetAll(ctx, i.key(organizationID, "actors"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return FilterOptions{}, err
	}
	if complete.Val() == 0 {
		return FilterOptions{}, ErrIndexIncomplete
	}

	var out FilterOptions
	for _, s := range entityTypes.Val() {
		out.EntityTypes = append(out.EntityTypes, EntityType(s))
	}
	for _, s := range actions.Val() {
		out.Actions = append(out.Actions, Action(s))
	}
	for id, raw := range actors.Val() {
		if id == "" {
			continue
		}
		t, name := decodeActor(raw)
		out.Actors = append(out.Actors, ActorOption{ID: id, Name: name, Type: t})
	}
	// Every entry has an entity type and an action; a marker over empty
	// hashes means the hashes were evicted.
	if len(out.EntityTypes) == 0 || len(out.Actions) == 0 {
		return FilterOptions{}, ErrIndexIncomplete
	}
	sortOptions(&out)
	return out, nil
}

func encodeActor(t ActorType, name string) string {
	return string(t) + "|" + name
}

func decodeActor(raw string) (ActorType, string) {
	t, name, ok := strings.Cut(raw, "|")
	if !ok {
		return "", raw
	}
	return ActorType(t), name
}
