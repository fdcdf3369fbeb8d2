package audit

import (
	"strings"
	"testing"

	"crm-platform/internal/diff"
)

func TestDescribe_MoveLead(t *testing.T) {
	got := Describe(DescribeInput{
		Action:     ActionMove,
		EntityType: EntityLead,
		Metadata:   LeadSubject{Title: "Acme Corp", StageName: "Negotiation"}.Metadata(),
		Changes:    diff.Compute(map[string]any{"stageId": "s1"}, map[string]any{"stageId": "s3"}),
	})
	if got != "Moveu o lead 'Acme Corp' para Negotiation" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribe_MoveTargetFallsBackToStageID(t *testing.T) {
	got := Describe(DescribeInput{
		Action:     ActionMove,
		EntityType: EntityLead,
		Metadata:   map[string]any{"title": "Acme Corp"},
		Changes:    diff.Compute(map[string]any{"stageId": "s1"}, map[string]any{"stageId": "s3"}),
	})
	if got != "Moveu o lead 'Acme Corp' para s3" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribe_Sentences(t *testing.T) {
	cases := []struct {
		in   DescribeInput
		want string
	}{
		{
			DescribeInput{Action: ActionCreate, EntityType: EntityContact, Metadata: map[string]any{"name": "Maria"}},
			"Criou o contato 'Maria'",
		},
		{
			DescribeInput{Action: ActionDelete, EntityType: EntityLead, Metadata: map[string]any{"name": "Old deal"}},
			"Excluiu o lead 'Old deal'",
		},
		{
			DescribeInput{Action: ActionAssign, EntityType: EntityLead, Metadata: map[string]any{"title": "Acme", "assigneeName": "Ana"}},
			"Atribuiu o lead 'Acme' a Ana",
		},
		{
			DescribeInput{Action: ActionHandoff, EntityType: EntityConversation, Metadata: map[string]any{"contactName": "João", "targetName": "Suporte"}},
			"Transferiu a conversa 'João' para Suporte",
		},
		{
			DescribeInput{
				Action:     ActionUpdate,
				EntityType: EntityTeamMember,
				Metadata:   map[string]any{"name": "Bia"},
				Changes:    diff.Compute(map[string]any{"role": "agent", "name": "Bia"}, map[string]any{"role": "manager", "name": "Bia"}),
			},
			"Atualizou o membro 'Bia' (role)",
		},
	}
	for _, tc := range cases {
		if got := Describe(tc.in); got != tc.want {
			t.Fatalf("Describe(%+v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDescribe_LabelFallsBackToChanges(t *testing.T) {
	got := Describe(DescribeInput{
		Action:     ActionUpdate,
		EntityType: EntityFieldDefinition,
		Changes:    diff.Compute(map[string]any{"label": "Budget"}, map[string]any{"label": "Orçamento"}),
	})
	if got != "Atualizou o campo 'Orçamento' (label)" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribe_UnknownTagsDegrade(t *testing.T) {
	got := Describe(DescribeInput{Action: Action("archive"), EntityType: EntityLead, Metadata: map[string]any{"title": "Acme"}})
	if got != "Executou 'archive' no lead 'Acme'" {
		t.Fatalf("unexpected description %q", got)
	}

	got = Describe(DescribeInput{Action: ActionCreate, EntityType: EntityType("invoice"), Metadata: map[string]any{"name": "INV-1"}})
	if got != "Criou o registro invoice 'INV-1'" {
		t.Fatalf("unexpected description %q", got)
	}

	got = Describe(DescribeInput{})
	if got == "" || strings.Contains(got, "<nil>") {
		t.Fatalf("expected a generic sentence, got %q", got)
	}
}

func TestDescribe_Deterministic(t *testing.T) {
	in := DescribeInput{
		Action:     ActionUpdate,
		EntityType: EntityLead,
		Metadata:   map[string]any{"title": "Acme"},
		Changes:    diff.Compute(map[string]any{}, map[string]any{"z": 1, "a": 2, "m": 3}),
	}
	first := Describe(in)
	for i := 0; i < 20; i++ {
		if got := Describe(in); got != first {
			t.Fatalf("non-deterministic description: %q vs %q", got, first)
		}
	}
}

func TestRender_MatchesWritePath(t *testing.T) {
	e := Entry{
		Action:     ActionMove,
		EntityType: EntityLead,
		Metadata:   map[string]any{"title": "Acme Corp", "stageName": "Negotiation"},
	}
	derived := Render(e)
	e.Description = Describe(DescribeInput{Action: e.Action, EntityType: e.EntityType, Metadata: e.Metadata})
	if derived != e.Description || Render(e) != e.Description {
		t.Fatalf("render and describe disagree: %q vs %q", derived, e.Description)
	}

	e.Description = "legacy text"
	if Render(e) != "legacy text" {
		t.Fatalf("stored description must win")
	}
}
