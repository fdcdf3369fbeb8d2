package team

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/rbac"
	"crm-platform/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc  *Service
	repo *MemoryRepo
	logs *audit.MemoryRepo
	gate *rbac.Gate
}

func newFixture(t *testing.T, wrap func(Repository) Repository) *fixture {
	t.Helper()
	m := rbac.DefaultMatrix()
	r, err := rbac.NewResolver(m, rbac.DefaultRoleTable(m))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	gate := rbac.NewGate(r)

	repo := NewMemoryRepo()
	for _, mem := range []Member{
		{ID: "adm", OrganizationID: "org-1", Name: "Ana", Role: rbac.RoleAdmin, Type: rbac.MemberTypeHuman, Status: StatusActive},
		{ID: "mgr", OrganizationID: "org-1", Name: "Bruno", Role: rbac.RoleManager, Type: rbac.MemberTypeHuman, Status: StatusActive},
		{ID: "agt", OrganizationID: "org-1", Name: "Carla", Role: rbac.RoleAgent, Type: rbac.MemberTypeHuman, Status: StatusActive},
		{ID: "bot", OrganizationID: "org-1", Name: "Assistente", Role: rbac.RoleAI, Type: rbac.MemberTypeAI, Status: StatusActive},
		{ID: "ext", OrganizationID: "org-2", Name: "Diego", Role: rbac.RoleAgent, Type: rbac.MemberTypeHuman, Status: StatusActive},
	} {
		if err := repo.Create(context.Background(), mem); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var backing Repository = repo
	if wrap != nil {
		backing = wrap(repo)
	}
	logs := audit.NewMemoryRepo()
	w := audit.NewWriter(logs, audit.WithClock(func() time.Time { return testNow }))
	svc := NewService(backing, store.NewMemoryTxManager(), gate, w, WithClock(func() time.Time { return testNow }))
	return &fixture{svc: svc, repo: repo, logs: logs, gate: gate}
}

func (f *fixture) principal(t *testing.T, id string) rbac.Principal {
	t.Helper()
	p, err := f.svc.LoadPrincipal(context.Background(), "org-1", id)
	if err != nil {
		t.Fatalf("load principal %s: %v", id, err)
	}
	return p
}

func TestGet_SelfReadBypassesTeamView(t *testing.T) {
	f := newFixture(t, nil)
	bot := f.principal(t, "bot")

	if _, err := f.svc.Get(context.Background(), bot, "bot"); err != nil {
		t.Fatalf("expected self read allowed, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), bot, "agt"); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading others without team.view, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), bot, "ext"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other organization to be invisible, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), rbac.Principal{}, "bot"); !errors.Is(err, rbac.ErrAuthenticationMissing) {
		t.Fatalf("expected ErrAuthenticationMissing, got %v", err)
	}
}

func TestUpdateAccess_CustomPermissionsAreCompleteAndAudited(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	patch := rbac.Permissions{rbac.AreaLeads: {rbac.ActionDelete: true}}
	m, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Custom: true, Permissions: patch})
	if err != nil {
		t.Fatalf("update access: %v", err)
	}
	if err := f.gate.Resolver().ValidateOverride(m.Override); err != nil {
		t.Fatalf("stored override must be complete: %v", err)
	}
	if !m.Override.Allows(rbac.AreaLeads, rbac.ActionDelete) || !m.Override.Allows(rbac.AreaLeads, rbac.ActionEdit) {
		t.Fatalf("expected agent defaults plus leads.delete, got %v", m.Override[rbac.AreaLeads])
	}

	entries := f.logs.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Severity != audit.SeverityHigh || e.Action != audit.ActionUpdate || e.ActorID != "adm" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if fields := e.Changes.Fields(); len(fields) != 1 || fields[0] != "permissionsOverride" {
		t.Fatalf("expected only permissionsOverride to change, got %v", fields)
	}
	if e.Description != "Atualizou o membro 'Carla' (permissionsOverride)" {
		t.Fatalf("unexpected description %q", e.Description)
	}

	// The new permissions apply on the next load.
	agent := f.principal(t, "agt")
	if err := f.gate.Authorize(context.Background(), agent, rbac.AreaLeads, rbac.ActionDelete); err != nil {
		t.Fatalf("expected leads.delete granted, got %v", err)
	}

	// Repeating the same change writes nothing.
	if _, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Custom: true, Permissions: patch}); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if n := len(f.logs.Entries()); n != 1 {
		t.Fatalf("expected no-op to skip audit, got %d entries", n)
	}

	// Custom off falls back to role defaults.
	m, err = f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Custom: false})
	if err != nil {
		t.Fatalf("clear override: %v", err)
	}
	if m.Override != nil {
		t.Fatalf("expected override cleared")
	}
	if n := len(f.logs.Entries()); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
}

func TestUpdateAccess_RoleChange(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	m, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Role: rbac.RoleManager})
	if err != nil {
		t.Fatalf("update access: %v", err)
	}
	if m.Role != rbac.RoleManager || m.Version != 2 {
		t.Fatalf("unexpected member %+v", m)
	}
	e := f.logs.Entries()[0]
	if e.Changes.Before["role"] != "agent" || e.Changes.After["role"] != "manager" {
		t.Fatalf("unexpected changes %+v", e.Changes)
	}
	if e.Metadata["role"] != "manager" {
		t.Fatalf("expected metadata to carry the new role, got %v", e.Metadata)
	}
}

func TestUpdateAccess_RequiresTeamManage(t *testing.T) {
	f := newFixture(t, nil)
	manager := f.principal(t, "mgr")

	_, err := f.svc.UpdateAccess(context.Background(), manager, "agt", AccessChange{Role: rbac.RoleAdmin})
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if n := len(f.logs.Entries()); n != 0 {
		t.Fatalf("denied change must not be audited, got %d entries", n)
	}
	m, _ := f.repo.Get(context.Background(), "org-1", "agt")
	if m.Role != rbac.RoleAgent {
		t.Fatalf("denied change was applied")
	}
}

func TestUpdateAccess_RejectsSelfLockout(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	_, err := f.svc.UpdateAccess(context.Background(), admin, "adm", AccessChange{Role: rbac.RoleAgent})
	if !errors.Is(err, rbac.ErrSelfLockout) {
		t.Fatalf("expected ErrSelfLockout, got %v", err)
	}

	patch := rbac.Permissions{rbac.AreaTeam: {rbac.ActionManage: false}}
	_, err = f.svc.UpdateAccess(context.Background(), admin, "adm", AccessChange{Custom: true, Permissions: patch})
	if !errors.Is(err, rbac.ErrSelfLockout) {
		t.Fatalf("expected ErrSelfLockout for override, got %v", err)
	}

	// Keeping team.manage while narrowing something else is fine.
	patch = rbac.Permissions{rbac.AreaLeads: {rbac.ActionDelete: false}}
	if _, err := f.svc.UpdateAccess(context.Background(), admin, "adm", AccessChange{Custom: true, Permissions: patch}); err != nil {
		t.Fatalf("expected change allowed, got %v", err)
	}
}

func TestUpdateAccess_RejectsUnknownCapability(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	patch := rbac.Permissions{rbac.Area("billing"): {rbac.ActionView: true}}
	_, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Custom: true, Permissions: patch})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateProfile_NoOpWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	same := "Carla"
	m, err := f.svc.UpdateProfile(context.Background(), admin, "agt", ProfilePatch{Name: &same})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Version != 1 || len(f.logs.Entries()) != 0 {
		t.Fatalf("expected no write and no audit, version=%d entries=%d", m.Version, len(f.logs.Entries()))
	}

	email := "carla@example.com"
	if _, err := f.svc.UpdateProfile(context.Background(), admin, "agt", ProfilePatch{Name: &same, Email: &email}); err != nil {
		t.Fatalf("update: %v", err)
	}
	entries := f.logs.Entries()
	if len(entries) != 1 || entries[0].Severity != audit.SeverityLow {
		t.Fatalf("expected one low severity entry, got %+v", entries)
	}
	if fields := entries[0].Changes.Fields(); len(fields) != 1 || fields[0] != "email" {
		t.Fatalf("expected diff limited to email, got %v", fields)
	}
}

func TestUpdateProfile_RefusesToStorePartialOverride(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	legacy := Member{
		ID: "old", OrganizationID: "org-1", Name: "Elisa", Role: rbac.RoleAgent,
		Type: rbac.MemberTypeHuman, Status: StatusActive,
		Override: rbac.Permissions{rbac.AreaLeads: {rbac.ActionView: true}},
	}
	if err := f.repo.Create(context.Background(), legacy); err != nil {
		t.Fatalf("seed: %v", err)
	}

	email := "elisa@example.com"
	_, err := f.svc.UpdateProfile(context.Background(), admin, "old", ProfilePatch{Email: &email})
	if !errors.Is(err, rbac.ErrIncompletePermissions) {
		t.Fatalf("expected incomplete permissions, got %v", err)
	}
	stored, err := f.repo.Get(context.Background(), "org-1", "old")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 1 || stored.Email != "" {
		t.Fatalf("expected nothing stored, got %+v", stored)
	}
	if n := len(f.logs.Entries()); n != 0 {
		t.Fatalf("expected no audit entry, got %d", n)
	}
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	if _, err := f.svc.Deactivate(context.Background(), admin, "adm"); !errors.Is(err, rbac.ErrSelfLockout) {
		t.Fatalf("expected ErrSelfLockout, got %v", err)
	}

	m, err := f.svc.Deactivate(context.Background(), admin, "agt")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if m.Status != StatusInactive {
		t.Fatalf("expected inactive, got %s", m.Status)
	}
	entries := f.logs.Entries()
	if len(entries) != 1 || entries[0].Severity != audit.SeverityHigh || entries[0].Action != audit.ActionDelete {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if _, err := f.svc.LoadPrincipal(context.Background(), "org-1", "agt"); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected inactive member refused, got %v", err)
	}

	if _, err := f.svc.Deactivate(context.Background(), admin, "agt"); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if n := len(f.logs.Entries()); n != 1 {
		t.Fatalf("expected repeat deactivation to be a no-op, got %d entries", n)
	}
}

func TestInvite(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.principal(t, "adm")

	m, err := f.svc.Invite(context.Background(), admin, InviteInput{Name: " Eva ", Role: rbac.RoleAgent})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.Name != "Eva" || m.Type != rbac.MemberTypeHuman || !m.Active() || m.Override != nil {
		t.Fatalf("unexpected member %+v", m)
	}
	entries := f.logs.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionCreate || entries[0].Changes != nil {
		t.Fatalf("unexpected entries %+v", entries)
	}

	agent := f.principal(t, "agt")
	if _, err := f.svc.Invite(context.Background(), agent, InviteInput{Name: "Fábio", Role: rbac.RoleAgent}); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Invite(context.Background(), admin, InviteInput{Name: "Fábio", Role: rbac.Role("owner")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

// conflictingRepo fails the first n updates as if another writer got there
// first.
type conflictingRepo struct {
	Repository
	failures int
	calls    int
}

func (r *conflictingRepo) Update(ctx context.Context, m Member) (Member, error) {
	r.calls++
	if r.calls <= r.failures {
		return Member{}, store.ErrConflict
	}
	return r.Repository.Update(ctx, m)
}

func TestMutation_RetriesConflicts(t *testing.T) {
	var flaky *conflictingRepo
	f := newFixture(t, func(r Repository) Repository {
		flaky = &conflictingRepo{Repository: r, failures: 1}
		return flaky
	})
	admin := f.principal(t, "adm")

	if _, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Role: rbac.RoleManager}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("expected 2 update attempts, got %d", flaky.calls)
	}
	if n := len(f.logs.Entries()); n != 1 {
		t.Fatalf("expected exactly 1 audit entry, got %d", n)
	}
}

func TestMutation_SurfacesPersistentConflict(t *testing.T) {
	f := newFixture(t, func(r Repository) Repository {
		return &conflictingRepo{Repository: r, failures: 100}
	})
	admin := f.principal(t, "adm")

	_, err := f.svc.UpdateAccess(context.Background(), admin, "agt", AccessChange{Role: rbac.RoleManager})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := len(f.logs.Entries()); n != 0 {
		t.Fatalf("aborted attempts must leave no audit entries, got %d", n)
	}
}
