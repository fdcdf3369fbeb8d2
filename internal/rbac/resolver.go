package rbac

import "fmt"

// Resolver computes effective permissions. It is pure: the same role and
// override always give the same result, and the result never blends the
// override with the role defaults.
type Resolver struct {
	matrix   Matrix
	defaults RoleTable
}

// NewResolver validates that every role has a complete default entry.
func NewResolver(m Matrix, defaults RoleTable) (*Resolver, error) {
	for role := range defaults {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q in default table", ErrUnknownRole, role)
		}
	}
	for _, role := range Roles() {
		p, ok := defaults[role]
		if !ok {
			return nil, fmt.Errorf("%w: no defaults for role %q", ErrIncompletePermissions, role)
		}
		if err := m.Validate(p); err != nil {
			return nil, fmt.Errorf("defaults for role %q: %w", role, err)
		}
	}
	return &Resolver{matrix: m, defaults: defaults.Clone()}, nil
}

func (r *Resolver) Matrix() Matrix { return r.matrix }

// Defaults returns a copy of the default permissions of role.
func (r *Resolver) Defaults(role Role) (Permissions, error) {
	p, ok := r.defaults[role]
	if !ok || !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return p.Clone(), nil
}

// Resolve returns override when present and role defaults otherwise. An
// unknown role or an incomplete override is an integrity error; there is no
// fallback role.
func (r *Resolver) Resolve(role Role, override Permissions) (Permissions, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if override != nil {
		if err := r.matrix.Validate(override); err != nil {
			return nil, err
		}
		return override.Clone(), nil
	}
	return r.Defaults(role)
}

// ValidateOverride rejects partial or unknown-key overrides before they are
// stored.
func (r *Resolver) ValidateOverride(p Permissions) error {
	return r.matrix.Validate(p)
}

// WithOverride builds a complete override from the defaults of role with the
// flags of patch applied on top. patch may be partial; the result never is.
func (r *Resolver) WithOverride(role Role, patch Permissions) (Permissions, error) {
	base, err := r.Defaults(role)
	if err != nil {
		return nil, err
	}
	for area, ap := range patch {
		for a, v := range ap {
			if !r.matrix.Has(area, a) {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCapability, area, a)
			}
			base[area][a] = v
		}
	}
	return base, nil
}
