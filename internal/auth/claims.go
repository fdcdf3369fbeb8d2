package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every verification failure. Clients only ever see a
// 401; the wrapped reason is for logs.
var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenType      = fmt.Errorf("%w: unexpected token type", ErrInvalidToken)
	ErrMissingSubject = fmt.Errorf("%w: member or organization missing", ErrInvalidToken)
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims carry identity only. Role and permissions are read from storage on
// every request, so a role change or deactivation applies immediately.
type Claims struct {
	jwt.RegisteredClaims

	MemberID       string    `json:"member_id"`
	OrganizationID string    `json:"organization_id"`
	TokenType      TokenType `json:"token_type"`
}

func (c Claims) check(expected TokenType) error {
	if c.TokenType != expected {
		return fmt.Errorf("%w: got %q, want %q", ErrTokenType, c.TokenType, expected)
	}
	if c.MemberID == "" || c.OrganizationID == "" {
		return ErrMissingSubject
	}
	return nil
}
