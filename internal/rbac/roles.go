package rbac

// Role names. Keep these stable; they are stored on team members and are part
// of the API contract.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleAI      Role = "ai"
)

// Roles lists every role the default table must cover.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleAgent, RoleAI}
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleAgent, RoleAI:
		return true
	default:
		return false
	}
}

// MemberType distinguishes human members from AI agents. Authorization treats
// both the same way; the type only matters for audit attribution.
type MemberType string

const (
	MemberTypeHuman MemberType = "human"
	MemberTypeAI    MemberType = "ai"
)

func (t MemberType) Valid() bool {
	return t == MemberTypeHuman || t == MemberTypeAI
}
