package llm

import (
	"strings"

	"google.golang.org/genai"

	"persona-chat/internal/models"
)

// chatRequest is the provider-shaped view of a message list.
type chatRequest struct {
	systemInstruction string
	history           []*genai.Content
	input             string
}

// buildChatRequest splits messages into a system instruction, prior turns and
// the current turn. The last message is always sent, as a single space when empty.
func buildChatRequest(messages []models.Message) chatRequest {
	var req chatRequest
	if len(messages) == 0 {
		req.input = " "
		return req
	}

	last := messages[len(messages)-1]
	req.input = last.Content
	if req.input == "" {
		req.input = " "
	}

	var system []string
	for _, msg := range messages[:len(messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if msg.Role == models.RoleSystem {
			system = append(system, content)
			continue
		}
		req.history = append(req.history, genai.NewContentFromText(content, providerRole(msg.Role)))
	}
	req.systemInstruction = strings.Join(system, "\n")

	return req
}

func providerRole(role models.Role) genai.Role {
	if role == models.RoleUser {
		return genai.RoleUser
	}
	return genai.RoleModel
}
