package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/diff"
	"crm-platform/internal/ids"
	"crm-platform/internal/obs"
	"crm-platform/internal/store"
	"crm-platform/pkg/logger"
)

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrInvalidSeverity is an integrity fault of the caller, not bad user input.
	ErrInvalidSeverity = errors.New("audit: invalid severity")
)

// Repository is the persistence contract for audit entries.
//
// It MUST be append-only. Every read is scoped by organization.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, q ListQuery) ([]Entry, error)
	Distinct(ctx context.Context, organizationID string) (FilterOptions, error)
}

// FilterIndex is told about every committed entry so it can maintain filter
// options without scanning the log.
type FilterIndex interface {
	Observe(ctx context.Context, e Entry) error
}

// Actor is who performed the mutation, as known at write time.
type Actor struct {
	ID   string
	Type ActorType
	Name string
}

// RecordInput is one mutation to record. Changes should come from diff.Compute
// and be nil for create and delete.
type RecordInput struct {
	OrganizationID string
	EntityID       string
	Action         Action
	Actor          Actor
	Subject        Subject
	Changes        *diff.ChangeSet
	Severity       Severity

	// Optional. When empty they are taken from the request metadata in ctx.
	IPAddress string
	UserAgent string
}

// Writer records audit entries. Call Record with the context of the
// transaction that performs the mutation, so both commit or abort together.
type Writer struct {
	repo  Repository
	index FilterIndex
	clock func() time.Time
}

type WriterOption func(*Writer)

func WithFilterIndex(idx FilterIndex) WriterOption {
	return func(w *Writer) { w.index = idx }
}

func WithClock(clock func() time.Time) WriterOption {
	return func(w *Writer) { w.clock = clock }
}

func NewWriter(repo Repository, opts ...WriterOption) *Writer {
	w := &Writer{repo: repo, clock: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Record validates, describes and inserts one entry. It never notifies anyone
// and never audits itself.
func (w *Writer) Record(ctx context.Context, in RecordInput) (Entry, error) {
	if w.repo == nil {
		return Entry{}, errors.New("audit: repository not configured")
	}
	if err := validate(in); err != nil {
		return Entry{}, err
	}

	now := w.clock().UTC()
	e := Entry{
		ID:             ids.At(now),
		OrganizationID: in.OrganizationID,
		EntityType:     in.Subject.EntityType(),
		EntityID:       in.EntityID,
		Action:         in.Action,
		ActorID:        in.Actor.ID,
		ActorType:      in.Actor.Type,
		ActorName:      in.Actor.Name,
		Changes:        in.Changes,
		Metadata:       in.Subject.Metadata(),
		Severity:       in.Severity,
		CreatedAt:      now.UnixMilli(),
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
	}
	if e.IPAddress == "" && e.UserAgent == "" {
		meta := RequestMetaFromContext(ctx)
		e.IPAddress, e.UserAgent = meta.IPAddress, meta.UserAgent
	}
	e.Description = Describe(DescribeInput{
		Action:     e.Action,
		EntityType: e.EntityType,
		Metadata:   e.Metadata,
		Changes:    e.Changes,
	})

	if err := w.repo.Insert(ctx, e); err != nil {
		return Entry{}, err
	}

	store.AfterCommit(ctx, func(ctx context.Context) {
		obs.AuditEntriesWritten.WithLabelValues(string(e.EntityType), string(e.Action), string(e.Severity)).Inc()
		if w.index == nil {
			return
		}
		if err := w.index.Observe(ctx, e); err != nil {
			logger.From(ctx).Warn("audit filter index update failed", "entry_id", e.ID, "err", err)
		}
	})
	return e, nil
}

func validate(in RecordInput) error {
	if !in.Severity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, in.Severity)
	}
	switch {
	case in.OrganizationID == "":
		return fmt.Errorf("%w: organization_id required", ErrInvalidEntry)
	case in.EntityID == "":
		return fmt.Errorf("%w: entity_id required", ErrInvalidEntry)
	case in.Subject == nil:
		return fmt.Errorf("%w: subject required", ErrInvalidEntry)
	case !in.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, in.Action)
	case !in.Actor.Type.Valid():
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidEntry, in.Actor.Type)
	case in.Actor.ID == "" && in.Actor.Type != ActorSystem:
		return fmt.Errorf("%w: actor_id required", ErrInvalidEntry)
	}
	return nil
}
