package audit

import (
	"fmt"
	"strings"

	"crm-platform/internal/diff"
)

// Descriptions are pt-BR and never depend on the reader's locale.

var verbs = map[Action]string{
	ActionCreate:  "Criou",
	ActionUpdate:  "Atualizou",
	ActionDelete:  "Excluiu",
	ActionMove:    "Moveu",
	ActionAssign:  "Atribuiu",
	ActionHandoff: "Transferiu",
}

type noun struct {
	article string
	word    string
}

var nouns = map[EntityType]noun{
	EntityLead:            {"o", "lead"},
	EntityContact:         {"o", "contato"},
	EntityConversation:    {"a", "conversa"},
	EntityTeamMember:      {"o", "membro"},
	EntityFieldDefinition: {"o", "campo"},
	EntityWebhook:         {"o", "webhook"},
	EntityAPIKey:          {"a", "chave de API"},
	EntitySettings:        {"as", "configurações"},
}

// "em" contracts with the article.
var contractions = map[string]string{"o": "no", "a": "na", "os": "nos", "as": "nas"}

// DescribeInput is everything a description is derived from.
type DescribeInput struct {
	Action     Action
	EntityType EntityType
	Metadata   map[string]any
	Changes    *diff.ChangeSet
}

// Describe renders the sentence stored on an entry. It is pure and never
// fails: unknown actions or entity types produce a generic sentence with the
// raw tag.
func Describe(in DescribeInput) string {
	n, ok := nouns[in.EntityType]
	if !ok {
		tag := strings.TrimSpace(string(in.EntityType))
		if tag == "" {
			n = noun{"o", "registro"}
		} else {
			n = noun{"o", "registro " + tag}
		}
	}

	object := n.word
	if label := labelOf(in); label != "" {
		object += " '" + label + "'"
	}

	verb, ok := verbs[in.Action]
	if !ok {
		return fmt.Sprintf("Executou '%s' %s %s", in.Action, contractions[n.article], object)
	}

	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" ")
	b.WriteString(n.article)
	b.WriteString(" ")
	b.WriteString(object)

	switch in.Action {
	case ActionMove:
		if target := firstString(in, "stageName", "stageId"); target != "" {
			b.WriteString(" para " + target)
		}
	case ActionAssign:
		if target := firstString(in, "assigneeName", "assigneeId"); target != "" {
			b.WriteString(" a " + target)
		}
	case ActionHandoff:
		if target := firstString(in, "targetName", "assigneeId"); target != "" {
			b.WriteString(" para " + target)
		}
	case ActionUpdate:
		if fields := in.Changes.Fields(); len(fields) > 0 {
			b.WriteString(" (" + strings.Join(fields, ", ") + ")")
		}
	}
	return b.String()
}

// Render returns the stored description, or derives it with the same function
// the write path uses when an older entry has none.
func Render(e Entry) string {
	if strings.TrimSpace(e.Description) != "" {
		return e.Description
	}
	return Describe(DescribeInput{
		Action:     e.Action,
		EntityType: e.EntityType,
		Metadata:   e.Metadata,
		Changes:    e.Changes,
	})
}

// labelOf picks metadata.title, then metadata.name, then the entity type's own
// label field from metadata and finally from the change set.
func labelOf(in DescribeInput) string {
	for _, k := range []string{"title", "name"} {
		if s := stringValue(in.Metadata[k]); s != "" {
			return s
		}
	}
	field, ok := labelFields[in.EntityType]
	if !ok {
		return ""
	}
	if s := stringValue(in.Metadata[field]); s != "" {
		return s
	}
	if in.Changes != nil {
		if s := stringValue(in.Changes.After[field]); s != "" {
			return s
		}
		if s := stringValue(in.Changes.Before[field]); s != "" {
			return s
		}
	}
	return ""
}

// firstString looks up metaKey in metadata, then each change key in
// changes.after.
func firstString(in DescribeInput, metaKey string, changeKeys ...string) string {
	if s := stringValue(in.Metadata[metaKey]); s != "" {
		return s
	}
	if in.Changes == nil {
		return ""
	}
	for _, k := range changeKeys {
		if s := stringValue(in.Changes.After[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
