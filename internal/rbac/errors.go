package rbac

import (
	"errors"
	"fmt"

	"crm-platform/internal/auth"
)

var (
	// ErrForbidden is the only thing a denied caller learns. The area and
	// action are logged, never returned to clients.
	ErrForbidden = errors.New("not authorized")

	// ErrIntegrity marks configuration or stored data that violates the
	// capability model. It is a server fault, not a denial.
	ErrIntegrity             = errors.New("rbac: integrity violation")
	ErrUnknownRole           = fmt.Errorf("%w: unknown role", ErrIntegrity)
	ErrIncompletePermissions = fmt.Errorf("%w: incomplete permissions", ErrIntegrity)
	ErrUnknownCapability     = fmt.Errorf("%w: unknown capability", ErrIntegrity)

	// ErrSelfLockout rejects a change that would remove the caller's own
	// ability to manage the team.
	ErrSelfLockout = errors.New("rbac: change would remove your own team management access")

	ErrAuthenticationMissing = auth.ErrAuthenticationMissing
)
