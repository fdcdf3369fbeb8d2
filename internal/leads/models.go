package leads

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lead is a sales opportunity in an organization's pipeline.
type Lead struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Title          string `json:"title"`
	StageID        string `json:"stage_id"`

	// Value is the expected deal size; decimal keeps cents exact.
	Value decimal.Decimal `json:"value"`

	AssigneeID   string         `json:"assignee_id,omitempty"`
	ContactID    string         `json:"contact_id,omitempty"`
	Tags         []string       `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fields is the snapshot diffed against a patch. Keys are the names that
// appear in audit change sets.
func (l Lead) fields() map[string]any {
	return map[string]any{
		"title":        l.Title,
		"stageId":      l.StageID,
		"value":        l.Value,
		"assigneeId":   l.AssigneeID,
		"contactId":    l.ContactID,
		"tags":         l.Tags,
		"customFields": l.CustomFields,
	}
}

// Patch lists the fields a caller wants to set. Nil fields are left alone;
// CustomFields replaces the whole map when present.
type Patch struct {
	Title        *string          `json:"title,omitempty"`
	StageID      *string          `json:"stage_id,omitempty"`
	Value        *decimal.Decimal `json:"value,omitempty"`
	AssigneeID   *string          `json:"assignee_id,omitempty"`
	ContactID    *string          `json:"contact_id,omitempty"`
	Tags         *[]string        `json:"tags,omitempty"`
	CustomFields map[string]any   `json:"custom_fields,omitempty"`
}

func (p Patch) proposed() map[string]any {
	out := map[string]any{}
	if p.Title != nil {
		out["title"] = *p.Title
	}
	if p.StageID != nil {
		out["stageId"] = *p.StageID
	}
	if p.Value != nil {
		out["value"] = *p.Value
	}
	if p.AssigneeID != nil {
		out["assigneeId"] = *p.AssigneeID
	}
	if p.ContactID != nil {
		out["contactId"] = *p.ContactID
	}
	if p.Tags != nil {
		out["tags"] = *p.Tags
	}
	if p.CustomFields != nil {
		out["customFields"] = p.CustomFields
	}
	return out
}

func (p Patch) apply(l Lead) Lead {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.StageID != nil {
		l.StageID = *p.StageID
	}
	if p.Value != nil {
		l.Value = *p.Value
	}
	if p.AssigneeID != nil {
		l.AssigneeID = *p.AssigneeID
	}
	if p.ContactID != nil {
		l.ContactID = *p.ContactID
	}
	if p.Tags != nil {
		l.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.CustomFields != nil {
		l.CustomFields = cloneFields(p.CustomFields)
	}
	return l
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
