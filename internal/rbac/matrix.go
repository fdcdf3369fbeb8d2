package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Area is a protected functional area of the CRM.
type Area string

const (
	AreaLeads            Area = "leads"
	AreaContacts         Area = "contacts"
	AreaConversations    Area = "conversations"
	AreaTeam             Area = "team"
	AreaSettings         Area = "settings"
	AreaAPIKeys          Area = "apiKeys"
	AreaWebhooks         Area = "webhooks"
	AreaAuditLogs        Area = "auditLogs"
	AreaFieldDefinitions Area = "fieldDefinitions"
)

// Action is a verb applicable to an area.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionAssign Action = "assign"
	ActionManage Action = "manage"
)

// Capability lists the actions one area exposes.
type Capability struct {
	Area    Area
	Actions []Action
}

// Matrix is the closed set of (area, action) pairs a Permissions value must
// cover. It is immutable once built.
type Matrix struct {
	caps  []Capability
	index map[Area]map[Action]struct{}
}

func NewMatrix(caps ...Capability) Matrix {
	m := Matrix{index: make(map[Area]map[Action]struct{}, len(caps))}
	for _, c := range caps {
		actions := append([]Action(nil), c.Actions...)
		m.caps = append(m.caps, Capability{Area: c.Area, Actions: actions})
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		m.index[c.Area] = set
	}
	return m
}

// DefaultMatrix is the CRM capability matrix.
func DefaultMatrix() Matrix {
	return NewMatrix(
		Capability{AreaLeads, []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionAssign}},
		Capability{AreaContacts, []Action{ActionView, ActionCreate, ActionEdit, ActionDelete}},
		Capability{AreaConversations, []Action{ActionView, ActionCreate, ActionEdit, ActionAssign}},
		Capability{AreaTeam, []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionManage}},
		Capability{AreaSettings, []Action{ActionView, ActionEdit}},
		Capability{AreaAPIKeys, []Action{ActionView, ActionCreate, ActionDelete}},
		Capability{AreaWebhooks, []Action{ActionView, ActionManage}},
		Capability{AreaAuditLogs, []Action{ActionView}},
		Capability{AreaFieldDefinitions, []Action{ActionView, ActionManage}},
	)
}

func (m Matrix) Capabilities() []Capability {
	out := make([]Capability, len(m.caps))
	copy(out, m.caps)
	return out
}

func (m Matrix) Has(area Area, action Action) bool {
	_, ok := m.index[area][action]
	return ok
}

// Empty returns a total Permissions value with every flag false.
func (m Matrix) Empty() Permissions {
	p := make(Permissions, len(m.caps))
	for _, c := range m.caps {
		ap := make(AreaPermissions, len(c.Actions))
		for _, a := range c.Actions {
			ap[a] = false
		}
		p[c.Area] = ap
	}
	return p
}

// Grant returns a total Permissions value where exactly the listed
// capabilities are true. Unknown pairs are kept so Validate reports them.
func (m Matrix) Grant(grants map[Area][]Action) Permissions {
	p := m.Empty()
	for area, actions := range grants {
		if p[area] == nil {
			p[area] = AreaPermissions{}
		}
		for _, a := range actions {
			p[area][a] = true
		}
	}
	return p
}

// All returns a total Permissions value with every flag true.
func (m Matrix) All() Permissions {
	p := m.Empty()
	for area, ap := range p {
		for a := range ap {
			p[area][a] = true
		}
	}
	return p
}

// Validate checks that p defines exactly the matrix: every pair present and
// nothing else.
func (m Matrix) Validate(p Permissions) error {
	if p == nil {
		return fmt.Errorf("%w: permissions are nil", ErrIncompletePermissions)
	}

	var missing, unknown []string
	for _, c := range m.caps {
		ap, ok := p[c.Area]
		if !ok {
			missing = append(missing, string(c.Area))
			continue
		}
		for _, a := range c.Actions {
			if _, ok := ap[a]; !ok {
				missing = append(missing, string(c.Area)+"."+string(a))
			}
		}
	}
	for area, ap := range p {
		for a := range ap {
			if !m.Has(area, a) {
				unknown = append(unknown, string(area)+"."+string(a))
			}
		}
		if _, ok := m.index[area]; !ok && len(ap) == 0 {
			unknown = append(unknown, string(area))
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownCapability, strings.Join(unknown, ", "))
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrIncompletePermissions, strings.Join(missing, ", "))
	}
	return nil
}
