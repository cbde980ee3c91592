package llm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"persona-chat/internal/models"
)

type turn struct {
	Role  string
	Parts []string
}

func flatten(contents []*genai.Content) []turn {
	out := make([]turn, 0, len(contents))
	for _, c := range contents {
		t := turn{Role: c.Role}
		for _, p := range c.Parts {
			t.Parts = append(t.Parts, p.Text)
		}
		out = append(out, t)
	}
	return out
}

func TestBuildChatRequest(t *testing.T) {
	tests := []struct {
		name       string
		messages   []models.Message
		wantSystem string
		wantTurns  []turn
		wantInput  string
	}{
		{
			name: "system user assistant user",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "S"},
				{Role: models.RoleUser, Content: "U1"},
				{Role: models.RoleAssistant, Content: "A1"},
				{Role: models.RoleUser, Content: "U2"},
			},
			wantSystem: "S",
			wantTurns:  []turn{{"user", []string{"U1"}}, {"model", []string{"A1"}}},
			wantInput:  "U2",
		},
		{
			name: "multiple system messages joined in order",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "first"},
				{Role: models.RoleUser, Content: "hi"},
				{Role: models.RoleSystem, Content: "  second  "},
				{Role: models.RoleUser, Content: "again"},
			},
			wantSystem: "first\nsecond",
			wantTurns:  []turn{{"user", []string{"hi"}}},
			wantInput:  "again",
		},
		{
			name: "blank history skipped and unknown roles become model",
			messages: []models.Message{
				{Role: models.RoleUser, Content: "   "},
				{Role: "tool", Content: "result"},
				{Role: models.RoleSystem, Content: ""},
				{Role: models.RoleUser, Content: "next"},
			},
			wantTurns: []turn{{"model", []string{"result"}}},
			wantInput: "next",
		},
		{
			name: "empty final message becomes a space",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "S"},
				{Role: models.RoleUser, Content: ""},
			},
			wantSystem: "S",
			wantTurns:  []turn{},
			wantInput:  " ",
		},
		{
			name: "final message sent untrimmed",
			messages: []models.Message{
				{Role: models.RoleUser, Content: "  spaced  "},
			},
			wantTurns: []turn{},
			wantInput: "  spaced  ",
		},
		{
			name: "final system message is the input",
			messages: []models.Message{
				{Role: models.RoleSystem, Content: "only"},
			},
			wantTurns: []turn{},
			wantInput: "only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := buildChatRequest(tt.messages)
			if req.systemInstruction != tt.wantSystem {
				t.Errorf("systemInstruction = %q, want %q", req.systemInstruction, tt.wantSystem)
			}
			if diff := cmp.Diff(tt.wantTurns, flatten(req.history)); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}
			if req.input != tt.wantInput {
				t.Errorf("input = %q, want %q", req.input, tt.wantInput)
			}
		})
	}
}
