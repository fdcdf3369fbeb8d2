package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/diff"
	"crm-platform/internal/ids"
	"crm-platform/internal/rbac"
	"crm-platform/internal/store"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("leads: invalid input")

// Deps are the collaborators of the lead service.
type Deps struct {
	Repo    Repository
	Stages  StageDirectory
	Members MemberDirectory
	Tx      store.TxManager
	Gate    *rbac.Gate
	Audit   *audit.Writer
}

// Service mutates leads. Each mutation loads the lead, authorizes, diffs,
// writes and records one audit entry inside a single transaction, retried as
// a whole on write conflicts. A mutation that changes nothing writes nothing.
type Service struct {
	Deps
	retries uint
	clock   func() time.Time
}

type Option func(*Service)

func WithRetries(n uint) Option {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{Deps: d, retries: 3, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateInput struct {
	Title        string          `json:"title"`
	StageID      string          `json:"stage_id"`
	Value        decimal.Decimal `json:"value"`
	AssigneeID   string          `json:"assignee_id,omitempty"`
	ContactID    string          `json:"contact_id,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	CustomFields map[string]any  `json:"custom_fields,omitempty"`
}

func (s *Service) Create(ctx context.Context, actor rbac.Principal, in CreateInput) (Lead, error) {
	if err := requireActor(actor); err != nil {
		return Lead{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return Lead{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if in.Value.IsNegative() {
		return Lead{}, fmt.Errorf("%w: value must not be negative", ErrInvalidInput)
	}

	var out Lead
	err := s.mutate(ctx, func(ctx context.Context) error {
		if err := s.Gate.Authorize(ctx, actor, rbac.AreaLeads, rbac.ActionCreate); err != nil {
			return err
		}
		if in.AssigneeID != "" {
			if err := s.Gate.Authorize(ctx, actor, rbac.AreaLeads, rbac.ActionAssign); err != nil {
				return err
			}
		}
		subject := audit.LeadSubject{Title: in.Title}
		if in.StageID != "" {
			name, err := s.stageName(ctx, actor.OrganizationID, in.StageID)
			if err != nil {
				return err
			}
			subject.StageName = name
		}
		if in.AssigneeID != "" {
			name, err := s.assigneeName(ctx, actor.OrganizationID, in.AssigneeID)
			if err != nil {
				return err
			}
			subject.AssigneeName = name
		}

		now := s.clock().UTC()
		l := Lead{
			ID:             ids.At(now),
			OrganizationID: actor.OrganizationID,
			Title:          in.Title,
			StageID:        in.StageID,
			Value:          in.Value,
			AssigneeID:     in.AssigneeID,
			ContactID:      in.ContactID,
			Tags:           append([]string(nil), in.Tags...),
			CustomFields:   cloneFields(in.CustomFields),
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.Repo.Create(ctx, l); err != nil {
			return err
		}
		if _, err := s.Audit.Record(ctx, audit.RecordInput{
			OrganizationID: l.OrganizationID,
			EntityID:       l.ID,
			Action:         audit.ActionCreate,
			Actor:          actorOf(actor),
			Subject:        subject,
			Severity:       audit.Classify(audit.EntityLead, audit.ActionCreate),
		}); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

// Update applies patch. Changing the stage records a move and changing only
// the assignee records an assignment; anything else is an update. Setting
// the assignee needs leads.assign, every other field needs leads.edit.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id string, patch Patch) (Lead, error) {
	if err := requireActor(actor); err != nil {
		return Lead{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Lead{}, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		patch.Title = &title
	}
	if patch.Value != nil && patch.Value.IsNegative() {
		return Lead{}, fmt.Errorf("%w: value must not be negative", ErrInvalidInput)
	}
	proposed := patch.proposed()
	if len(proposed) == 0 {
		return Lead{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}

	var out Lead
	err := s.mutate(ctx, func(ctx context.Context) error {
		l, err := s.Repo.Get(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.authorizePatch(ctx, actor, proposed); err != nil {
			return err
		}

		changes := diff.Compute(l.fields(), proposed)
		if changes == nil {
			out = l
			return nil
		}

		next := patch.apply(l)
		subject := audit.LeadSubject{Title: next.Title}
		action := audit.ActionUpdate
		if changes.Has("stageId") {
			action = audit.ActionMove
			if next.StageID != "" {
				if subject.StageName, err = s.stageName(ctx, l.OrganizationID, next.StageID); err != nil {
					return err
				}
			}
		}
		if changes.Has("assigneeId") {
			if len(changes.Fields()) == 1 {
				action = audit.ActionAssign
			}
			if next.AssigneeID != "" {
				if subject.AssigneeName, err = s.assigneeName(ctx, l.OrganizationID, next.AssigneeID); err != nil {
					return err
				}
			}
		}
		next.UpdatedAt = s.clock().UTC()

		saved, err := s.Repo.Update(ctx, next)
		if err != nil {
			return err
		}
		if _, err := s.Audit.Record(ctx, audit.RecordInput{
			OrganizationID: saved.OrganizationID,
			EntityID:       saved.ID,
			Action:         action,
			Actor:          actorOf(actor),
			Subject:        subject,
			Changes:        changes,
			Severity:       audit.Classify(audit.EntityLead, action),
		}); err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// Move puts the lead in another pipeline stage.
func (s *Service) Move(ctx context.Context, actor rbac.Principal, id, stageID string) (Lead, error) {
	if strings.TrimSpace(stageID) == "" {
		return Lead{}, fmt.Errorf("%w: stage required", ErrInvalidInput)
	}
	return s.Update(ctx, actor, id, Patch{StageID: &stageID})
}

// Assign hands the lead to a member. An empty assigneeID unassigns it.
func (s *Service) Assign(ctx context.Context, actor rbac.Principal, id, assigneeID string) (Lead, error) {
	return s.Update(ctx, actor, id, Patch{AssigneeID: &assigneeID})
}

// Delete removes the lead and records a medium severity entry naming it.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	return s.mutate(ctx, func(ctx context.Context) error {
		l, err := s.Repo.Get(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.Gate.Authorize(ctx, actor, rbac.AreaLeads, rbac.ActionDelete); err != nil {
			return err
		}
		if err := s.Repo.Delete(ctx, l.OrganizationID, l.ID, l.Version); err != nil {
			return err
		}
		_, err = s.Audit.Record(ctx, audit.RecordInput{
			OrganizationID: l.OrganizationID,
			EntityID:       l.ID,
			Action:         audit.ActionDelete,
			Actor:          actorOf(actor),
			Subject:        audit.LeadSubject{Title: l.Title},
			Severity:       audit.Classify(audit.EntityLead, audit.ActionDelete),
		})
		return err
	})
}

func (s *Service) authorizePatch(ctx context.Context, actor rbac.Principal, proposed map[string]any) error {
	if _, ok := proposed["assigneeId"]; ok {
		if err := s.Gate.Authorize(ctx, actor, rbac.AreaLeads, rbac.ActionAssign); err != nil {
			return err
		}
		if len(proposed) == 1 {
			return nil
		}
	}
	return s.Gate.Authorize(ctx, actor, rbac.AreaLeads, rbac.ActionEdit)
}

func (s *Service) stageName(ctx context.Context, organizationID, stageID string) (string, error) {
	name, err := s.Stages.StageName(ctx, organizationID, stageID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown stage %s", ErrInvalidInput, stageID)
	}
	return name, err
}

func (s *Service) assigneeName(ctx context.Context, organizationID, memberID string) (string, error) {
	name, err := s.Members.MemberName(ctx, organizationID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown assignee %s", ErrInvalidInput, memberID)
	}
	return name, err
}

func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		return s.Tx.RunInTx(ctx, fn)
	})
}

func requireActor(p rbac.Principal) error {
	if p.MemberID == "" || p.OrganizationID == "" {
		return rbac.ErrAuthenticationMissing
	}
	return nil
}

func actorOf(p rbac.Principal) audit.Actor {
	t := audit.ActorHuman
	if p.Type == rbac.MemberTypeAI {
		t = audit.ActorAI
	}
	return audit.Actor{ID: p.MemberID, Type: t, Name: p.Name}
}
