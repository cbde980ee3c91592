package llm

import (
	"strings"

	"google.golang.org/genai"
)

// replyText pulls the reply out of a provider response: the top-level text
// first, then the first candidate that has non-empty parts.
func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errNoReply
	}

	if text := strings.TrimSpace(resp.Text()); text != "" {
		return text, nil
	}

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			continue
		}
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if part != nil {
				b.WriteString(part.Text)
			}
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
		break
	}

	return "", errNoReply
}
