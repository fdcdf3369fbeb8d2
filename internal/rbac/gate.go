package rbac

import (
	"context"
	"fmt"

	"crm-platform/internal/obs"
	"crm-platform/pkg/logger"
)

// Gate answers capability checks. Everything is denied unless the effective
// permissions of the principal grant it explicitly.
type Gate struct {
	resolver *Resolver
}

func NewGate(r *Resolver) *Gate {
	return &Gate{resolver: r}
}

func (g *Gate) Resolver() *Resolver { return g.resolver }

// Effective returns the permissions p currently holds.
func (g *Gate) Effective(p Principal) (Permissions, error) {
	return g.resolver.Resolve(p.Role, p.Override)
}

// Authorize returns nil when p may perform action on area.
func (g *Gate) Authorize(ctx context.Context, p Principal, area Area, action Action) error {
	if p.MemberID == "" || p.OrganizationID == "" {
		return ErrAuthenticationMissing
	}

	eff, err := g.Effective(p)
	if err != nil {
		logger.From(ctx).Error("permission resolution failed",
			"member_id", p.MemberID, "role", string(p.Role), "err", err)
		return err
	}

	if !eff.Allows(area, action) {
		obs.AuthorizationDecisions.WithLabelValues(string(area), string(action), "deny").Inc()
		logger.From(ctx).Warn("authorization denied",
			"member_id", p.MemberID,
			"organization_id", p.OrganizationID,
			"area", string(area),
			"action", string(action),
		)
		return fmt.Errorf("%w: %s.%s", ErrForbidden, area, action)
	}

	obs.AuthorizationDecisions.WithLabelValues(string(area), string(action), "allow").Inc()
	return nil
}

// AuthorizeMemberRead lets a member always read their own record. Reading
// anyone else requires team.view.
func (g *Gate) AuthorizeMemberRead(ctx context.Context, p Principal, memberID string) error {
	if p.MemberID != "" && p.MemberID == memberID {
		return nil
	}
	return g.Authorize(ctx, p, AreaTeam, ActionView)
}

// CheckSelfLockout rejects a change of the actor's own role or override that
// would leave the actor without team.manage. Changes to other members always
// pass.
func (g *Gate) CheckSelfLockout(actor Principal, targetID string, newRole Role, newOverride Permissions) error {
	if actor.MemberID == "" || actor.MemberID != targetID {
		return nil
	}
	eff, err := g.resolver.Resolve(newRole, newOverride)
	if err != nil {
		return err
	}
	if !eff.Allows(AreaTeam, ActionManage) {
		return ErrSelfLockout
	}
	return nil
}
