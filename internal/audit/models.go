package audit

import "crm-platform/internal/diff"

// Entry is an immutable, append-only audit record of one mutation.
//
// Invariants:
//   - Entries are never updated or deleted; no repository exposes either.
//   - organization_id is required and is the first predicate of every query.
//   - actor_name is the name at write time and is never refreshed.
//   - description is computed once, at write time.
type Entry struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`

	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Action     Action     `json:"action"`

	ActorID   string    `json:"actor_id"`
	ActorType ActorType `json:"actor_type"`
	ActorName string    `json:"actor_name"`

	// Changes is nil for actions that carry no field diff (create, delete).
	Changes  *diff.ChangeSet `json:"changes,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`

	Description string   `json:"description"`
	Severity    Severity `json:"severity"`

	// CreatedAt is epoch milliseconds.
	CreatedAt int64 `json:"created_at"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionMove    Action = "move"
	ActionAssign  Action = "assign"
	ActionHandoff Action = "handoff"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionMove, ActionAssign, ActionHandoff:
		return true
	}
	return false
}

type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAI     ActorType = "ai"
	ActorSystem ActorType = "system"
)

func (t ActorType) Valid() bool {
	return t == ActorHuman || t == ActorAI || t == ActorSystem
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type EntityType string

const (
	EntityLead            EntityType = "lead"
	EntityContact         EntityType = "contact"
	EntityConversation    EntityType = "conversation"
	EntityTeamMember      EntityType = "teamMember"
	EntityFieldDefinition EntityType = "fieldDefinition"
	EntityWebhook         EntityType = "webhook"
	EntityAPIKey          EntityType = "apiKey"
	EntitySettings        EntityType = "settings"
)
