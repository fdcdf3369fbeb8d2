package rbac

// AreaPermissions holds the flags of one area.
type AreaPermissions map[Action]bool

// Permissions maps every area of the matrix to its action flags. A value that
// leaves out any pair is invalid; see Matrix.Validate.
type Permissions map[Area]AreaPermissions

// Allows reports whether the flag for (area, action) is set. Absent pairs are
// denied.
func (p Permissions) Allows(area Area, action Action) bool {
	return p[area][action]
}

func (p Permissions) Clone() Permissions {
	if p == nil {
		return nil
	}
	out := make(Permissions, len(p))
	for area, ap := range p {
		cp := make(AreaPermissions, len(ap))
		for a, v := range ap {
			cp[a] = v
		}
		out[area] = cp
	}
	return out
}

// Equal reports whether both values carry the same flags.
func (p Permissions) Equal(other Permissions) bool {
	if len(p) != len(other) {
		return false
	}
	for area, ap := range p {
		op, ok := other[area]
		if !ok || len(op) != len(ap) {
			return false
		}
		for a, v := range ap {
			ov, ok := op[a]
			if !ok || ov != v {
				return false
			}
		}
	}
	return true
}
