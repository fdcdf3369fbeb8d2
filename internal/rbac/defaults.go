package rbac

// RoleTable holds the default permissions of each role. It is injected into
// the Resolver so deployments and tests can supply their own.
type RoleTable map[Role]Permissions

func (t RoleTable) Clone() RoleTable {
	out := make(RoleTable, len(t))
	for r, p := range t {
		out[r] = p.Clone()
	}
	return out
}

// DefaultRoleTable returns the stock role defaults for m.
func DefaultRoleTable(m Matrix) RoleTable {
	return RoleTable{
		RoleAdmin: m.All(),
		RoleManager: m.Grant(map[Area][]Action{
			AreaLeads:            {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionAssign},
			AreaContacts:         {ActionView, ActionCreate, ActionEdit, ActionDelete},
			AreaConversations:    {ActionView, ActionCreate, ActionEdit, ActionAssign},
			AreaTeam:             {ActionView},
			AreaSettings:         {ActionView},
			AreaWebhooks:         {ActionView},
			AreaAuditLogs:        {ActionView},
			AreaFieldDefinitions: {ActionView, ActionManage},
		}),
		RoleAgent: m.Grant(map[Area][]Action{
			AreaLeads:            {ActionView, ActionCreate, ActionEdit},
			AreaContacts:         {ActionView, ActionCreate, ActionEdit},
			AreaConversations:    {ActionView, ActionCreate, ActionEdit},
			AreaTeam:             {ActionView},
			AreaFieldDefinitions: {ActionView},
		}),
		RoleAI: m.Grant(map[Area][]Action{
			AreaLeads:            {ActionView, ActionCreate, ActionEdit},
			AreaContacts:         {ActionView, ActionCreate, ActionEdit},
			AreaConversations:    {ActionView, ActionCreate, ActionEdit, ActionAssign},
			AreaFieldDefinitions: {ActionView},
		}),
	}
}
