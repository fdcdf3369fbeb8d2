package auth

import (
	"context"
	"errors"
)

// ErrAuthenticationMissing is returned when no authenticated member is bound
// to the request.
var ErrAuthenticationMissing = errors.New("auth: authentication missing")

type identity struct {
	memberID       string
	organizationID string
}

type identityKey struct{}

// WithIdentity binds the authenticated member to ctx.
func WithIdentity(ctx context.Context, memberID, organizationID string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{memberID: memberID, organizationID: organizationID})
}

func identityFrom(ctx context.Context) (identity, error) {
	id, ok := ctx.Value(identityKey{}).(identity)
	if !ok || id.memberID == "" || id.organizationID == "" {
		return identity{}, ErrAuthenticationMissing
	}
	return id, nil
}

func MemberID(ctx context.Context) (string, error) {
	id, err := identityFrom(ctx)
	return id.memberID, err
}

func OrganizationID(ctx context.Context) (string, error) {
	id, err := identityFrom(ctx)
	return id.organizationID, err
}
