package team

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
	"crm-platform/pkg/logger"
)

var ErrInvalidInput = errors.New("team: invalid input")

// Service manages organization members. Every mutation runs load, authorize,
// diff, write and audit in one transaction and is retried as a whole on a
// write conflict.
type Service struct {
	repo    Repository
	tx      store.TxManager
	gate    *rbac.Gate
	audit   *audit.Writer
	retries uint
	clock   func() time.Time
}

type Option func(*Service)

// WithRetries bounds how many times a conflicting mutation is attempted.
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

func NewService(repo Repository, tx store.TxManager, gate *rbac.Gate, w *audit.Writer, opts ...Option) *Service {
	s := &Service{repo: repo, tx: tx, gate: gate, audit: w, retries: 3, clock: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadPrincipal returns the current state of a member for authorization.
// Unknown and inactive members are refused with rbac.ErrForbidden.
func (s *Service) LoadPrincipal(ctx context.Context, organizationID, memberID string) (rbac.Principal, error) {
	m, err := s.repo.Get(ctx, organizationID, memberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rbac.Principal{}, fmt.Errorf("%w: unknown member", rbac.ErrForbidden)
		}
		return rbac.Principal{}, err
	}
	if !m.Active() {
		return rbac.Principal{}, fmt.Errorf("%w: member inactive", rbac.ErrForbidden)
	}
	return m.Principal(), nil
}

// Get returns a member. Members may always read themselves; anyone else
// needs team.view.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id string) (Member, error) {
	if err := requireActor(actor); err != nil {
		return Member{}, err
	}
	m, err := s.repo.Get(ctx, actor.OrganizationID, id)
	if err != nil {
		return Member{}, err
	}
	if err := s.gate.AuthorizeMemberRead(ctx, actor, id); err != nil {
		return Member{}, err
	}
	return m, nil
}

type InviteInput struct {
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Role  rbac.Role       `json:"role"`
	Type  rbac.MemberType `json:"type"`
	// Permissions is an optional partial patch on top of the role defaults.
	Permissions rbac.Permissions `json:"permissions,omitempty"`
}

// Invite adds an active member. Granting custom permissions at the same time
// additionally requires team.manage.
func (s *Service) Invite(ctx context.Context, actor rbac.Principal, in InviteInput) (Member, error) {
	if err := requireActor(actor); err != nil {
		return Member{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Member{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return Member{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if in.Type == "" {
		in.Type = rbac.MemberTypeHuman
	}
	if !in.Type.Valid() {
		return Member{}, fmt.Errorf("%w: unknown member type %q", ErrInvalidInput, in.Type)
	}
	if err := s.checkPatch(in.Permissions); err != nil {
		return Member{}, err
	}

	var out Member
	err := s.mutate(ctx, func(ctx context.Context) error {
		if err := s.gate.Authorize(ctx, actor, rbac.AreaTeam, rbac.ActionCreate); err != nil {
			return err
		}
		m := Member{
			ID:             ids.New(),
			OrganizationID: actor.OrganizationID,
			Name:           in.Name,
			Email:          strings.TrimSpace(in.Email),
			Role:           in.Role,
			Type:           in.Type,
			Status:         StatusActive,
			Version:        1,
		}
		if in.Permissions != nil {
			if err := s.gate.Authorize(ctx, actor, rbac.AreaTeam, rbac.ActionManage); err != nil {
				return err
			}
			p, err := s.gate.Resolver().WithOverride(in.Role, in.Permissions)
			if err != nil {
				return err
			}
			m.Override = p
		}
		now := s.clock().UTC()
		m.CreatedAt, m.UpdatedAt = now, now
		if err := s.create(ctx, m); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.RecordInput{
			OrganizationID: m.OrganizationID,
			EntityID:       m.ID,
			Action:         audit.ActionCreate,
			Actor:          actorOf(actor),
			Subject:        audit.TeamMemberSubject{Name: m.Name, Role: string(m.Role)},
			Severity:       audit.Classify(audit.EntityTeamMember, audit.ActionCreate),
		}); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

type ProfilePatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// UpdateProfile changes name and email. Unchanged values write nothing.
func (s *Service) UpdateProfile(ctx context.Context, actor rbac.Principal, id string, patch ProfilePatch) (Member, error) {
	if err := requireActor(actor); err != nil {
		return Member{}, err
	}
	proposed := map[string]any{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return Member{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		proposed["name"] = name
	}
	if patch.Email != nil {
		proposed["email"] = strings.TrimSpace(*patch.Email)
	}

	var out Member
	err := s.mutate(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(ctx, actor, rbac.AreaTeam, rbac.ActionEdit); err != nil {
			return err
		}

		changes := diff.Compute(m.fields(), proposed)
		if changes == nil {
			out = m
			return nil
		}
		next := m
		if changes.Has("name") {
			next.Name = proposed["name"].(string)
		}
		if changes.Has("email") {
			next.Email = proposed["email"].(string)
		}
		next.UpdatedAt = s.clock().UTC()

		saved, err := s.update(ctx, next)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.RecordInput{
			OrganizationID: saved.OrganizationID,
			EntityID:       saved.ID,
			Action:         audit.ActionUpdate,
			Actor:          actorOf(actor),
			Subject:        audit.TeamMemberSubject{Name: saved.Name, Role: string(saved.Role)},
			Changes:        changes,
			Severity:       audit.Classify(audit.EntityTeamMember, audit.ActionUpdate),
		}); err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// AccessChange sets a member's role and whether they use custom permissions.
// With Custom off the member falls back to role defaults. With Custom on,
// Permissions is applied on top of the member's current custom set (or the
// role defaults) and the stored result is always complete.
type AccessChange struct {
	Role        rbac.Role        `json:"role,omitempty"`
	Custom      bool             `json:"custom_permissions"`
	Permissions rbac.Permissions `json:"permissions,omitempty"`
}

// UpdateAccess changes role and permissions. It requires team.manage and
// refuses changes that would take team.manage away from the caller.
func (s *Service) UpdateAccess(ctx context.Context, actor rbac.Principal, id string, change AccessChange) (Member, error) {
	if err := requireActor(actor); err != nil {
		return Member{}, err
	}
	if change.Role != "" && !change.Role.Valid() {
		return Member{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, change.Role)
	}
	if err := s.checkPatch(change.Permissions); err != nil {
		return Member{}, err
	}

	var out Member
	err := s.mutate(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(ctx, actor, rbac.AreaTeam, rbac.ActionManage); err != nil {
			return err
		}

		role := change.Role
		if role == "" {
			role = m.Role
		}
		var override rbac.Permissions
		if change.Custom {
			base := change.Permissions
			if m.Override != nil && role == m.Role {
				base = overlay(m.Override, change.Permissions)
			}
			if override, err = s.gate.Resolver().WithOverride(role, base); err != nil {
				return err
			}
		}
		if err := s.gate.CheckSelfLockout(actor, m.ID, role, override); err != nil {
			return err
		}

		changes := diff.Compute(m.fields(), map[string]any{
			"role":                string(role),
			"permissionsOverride": override,
		})
		if changes == nil {
			out = m
			return nil
		}
		next := m
		next.Role = role
		next.Override = override
		next.UpdatedAt = s.clock().UTC()

		saved, err := s.update(ctx, next)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.RecordInput{
			OrganizationID: saved.OrganizationID,
			EntityID:       saved.ID,
			Action:         audit.ActionUpdate,
			Actor:          actorOf(actor),
			Subject:        audit.TeamMemberSubject{Name: saved.Name, Role: string(saved.Role)},
			Changes:        changes,
			Severity:       audit.SeverityHigh,
		}); err != nil {
			return err
		}
		logger.From(ctx).Info("member access changed",
			"member_id", saved.ID,
			"actor_id", actor.MemberID,
			"role", string(saved.Role),
			"custom_permissions", saved.Override != nil,
		)
		out = saved
		return nil
	})
	return out, err
}

// Deactivate soft-deletes a member. Members cannot deactivate themselves.
// Deactivating an inactive member is a no-op.
func (s *Service) Deactivate(ctx context.Context, actor rbac.Principal, id string) (Member, error) {
	if err := requireActor(actor); err != nil {
		return Member{}, err
	}

	var out Member
	err := s.mutate(ctx, func(ctx context.Context) error {
		m, err := s.repo.Get(ctx, actor.OrganizationID, id)
		if err != nil {
			return err
		}
		if err := s.gate.Authorize(ctx, actor, rbac.AreaTeam, rbac.ActionDelete); err != nil {
			return err
		}
		if m.ID == actor.MemberID {
			return rbac.ErrSelfLockout
		}

		changes := diff.Compute(m.fields(), map[string]any{"status": string(StatusInactive)})
		if changes == nil {
			out = m
			return nil
		}
		next := m
		next.Status = StatusInactive
		next.UpdatedAt = s.clock().UTC()

		saved, err := s.update(ctx, next)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.RecordInput{
			OrganizationID: saved.OrganizationID,
			EntityID:       saved.ID,
			Action:         audit.ActionDelete,
			Actor:          actorOf(actor),
			Subject:        audit.TeamMemberSubject{Name: saved.Name, Role: string(saved.Role)},
			Changes:        changes,
			Severity:       audit.Classify(audit.EntityTeamMember, audit.ActionDelete),
		}); err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, fn)
	})
}

// create and update refuse to persist an override that does not cover
// the full capability matrix.
func (s *Service) create(ctx context.Context, m Member) error {
	if err := s.validate(m); err != nil {
		return err
	}
	return s.repo.Create(ctx, m)
}

func (s *Service) update(ctx context.Context, m Member) (Member, error) {
	if err := s.validate(m); err != nil {
		return Member{}, err
	}
	return s.repo.Update(ctx, m)
}

func (s *Service) validate(m Member) error {
	if m.Override == nil {
		return nil
	}
	return s.gate.Resolver().ValidateOverride(m.Override)
}

// checkPatch rejects client-supplied flags outside the capability matrix
// before they can surface as integrity errors.
func (s *Service) checkPatch(p rbac.Permissions) error {
	m := s.gate.Resolver().Matrix()
	for area, ap := range p {
		for a := range ap {
			if !m.Has(area, a) {
				return fmt.Errorf("%w: unknown capability %s.%s", ErrInvalidInput, area, a)
			}
		}
	}
	return nil
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

// overlay returns base with the flags of patch applied on top.
func overlay(base, patch rbac.Permissions) rbac.Permissions {
	out := base.Clone()
	for area, ap := range patch {
		if out[area] == nil {
			out[area] = rbac.AreaPermissions{}
		}
		for a, v := range ap {
			out[area][a] = v
		}
	}
	return out
}

// MemberName returns the display name of a member for other modules'
// audit descriptions. It does not authorize; callers already have.
func (s *Service) MemberName(ctx context.Context, organizationID, id string) (string, error) {
	m, err := s.repo.Get(ctx, organizationID, id)
	if err != nil {
		return "", err
	}
	return m.Name, nil
}
