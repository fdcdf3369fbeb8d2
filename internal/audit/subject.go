package audit

// Subject describes the entity an entry is about. Each entity type has its
// own variant, so the metadata shape always matches the entity type and the
// description generator always finds a label.
type Subject interface {
	EntityType() EntityType
	Metadata() map[string]any
}

// labelFields maps each entity type to the metadata or change field that
// names the entity in descriptions.
var labelFields = map[EntityType]string{
	EntityLead:            "title",
	EntityContact:         "name",
	EntityConversation:    "contactName",
	EntityTeamMember:      "name",
	EntityFieldDefinition: "label",
	EntityWebhook:         "url",
	EntityAPIKey:          "name",
	EntitySettings:        "section",
}

type LeadSubject struct {
	Title string
	// StageName is the target stage of a move.
	StageName string
	// AssigneeName is the new owner of an assignment.
	AssigneeName string
}

func (LeadSubject) EntityType() EntityType { return EntityLead }

func (s LeadSubject) Metadata() map[string]any {
	// Stored under "name" like every other entity's label; update diffs
	// still carry the field as "title".
	m := map[string]any{"name": s.Title}
	putIf(m, "stageName", s.StageName)
	putIf(m, "assigneeName", s.AssigneeName)
	return m
}

type ContactSubject struct {
	Name string
}

func (ContactSubject) EntityType() EntityType { return EntityContact }

func (s ContactSubject) Metadata() map[string]any { return map[string]any{"name": s.Name} }

type ConversationSubject struct {
	ContactName string
	// TargetName is who the conversation was handed off or assigned to.
	TargetName string
}

func (ConversationSubject) EntityType() EntityType { return EntityConversation }

func (s ConversationSubject) Metadata() map[string]any {
	m := map[string]any{"contactName": s.ContactName}
	putIf(m, "targetName", s.TargetName)
	return m
}

type TeamMemberSubject struct {
	Name string
	Role string
}

func (TeamMemberSubject) EntityType() EntityType { return EntityTeamMember }

func (s TeamMemberSubject) Metadata() map[string]any {
	m := map[string]any{"name": s.Name}
	putIf(m, "role", s.Role)
	return m
}

type FieldDefinitionSubject struct {
	Label      string
	EntityKind string
}

func (FieldDefinitionSubject) EntityType() EntityType { return EntityFieldDefinition }

func (s FieldDefinitionSubject) Metadata() map[string]any {
	m := map[string]any{"label": s.Label}
	putIf(m, "entityKind", s.EntityKind)
	return m
}

type WebhookSubject struct {
	URL string
}

func (WebhookSubject) EntityType() EntityType { return EntityWebhook }

func (s WebhookSubject) Metadata() map[string]any { return map[string]any{"url": s.URL} }

type APIKeySubject struct {
	Name string
}

func (APIKeySubject) EntityType() EntityType { return EntityAPIKey }

func (s APIKeySubject) Metadata() map[string]any { return map[string]any{"name": s.Name} }

type SettingsSubject struct {
	Section string
}

func (SettingsSubject) EntityType() EntityType { return EntitySettings }

func (s SettingsSubject) Metadata() map[string]any { return map[string]any{"section": s.Section} }

func putIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
