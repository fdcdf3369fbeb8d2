package team

import (
	"time"

	"crm-platform/internal/rbac"
)

// Member is a human or AI member of an organization.
//
// Invariants:
//   - Override is nil (role defaults apply) or a complete permissions matrix.
//   - Members are never hard-deleted; deactivation flips Status.
//   - Version increases on every write and guards concurrent updates.
type Member struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Role           rbac.Role       `json:"role"`
	Type           rbac.MemberType `json:"type"`
	Status         Status          `json:"status"`

	Override rbac.Permissions `json:"permissions_override,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (m Member) Active() bool { return m.Status == StatusActive }

// Principal is the member as the authorization gate sees it.
func (m Member) Principal() rbac.Principal {
	return rbac.Principal{
		MemberID:       m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Role:           m.Role,
		Type:           m.Type,
		Override:       m.Override.Clone(),
	}
}

// fields is the snapshot diffed against proposed changes. Keys match the
// JSON names clients see.
func (m Member) fields() map[string]any {
	return map[string]any{
		"name":                m.Name,
		"email":               m.Email,
		"role":                string(m.Role),
		"status":              string(m.Status),
		"permissionsOverride": m.Override,
	}
}
