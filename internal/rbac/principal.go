package rbac

import "context"

// Principal is the authenticated member a capability check is evaluated for.
type Principal struct {
	MemberID       string
	OrganizationID string
	Name           string
	Role           Role
	Type           MemberType
	// Override is nil when the member uses role defaults.
	Override Permissions
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.MemberID != ""
}
