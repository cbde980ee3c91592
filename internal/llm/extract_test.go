package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestReplyText(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		_, err := replyText(nil)
		require.ErrorIs(t, err, errNoReply)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := replyText(&genai.GenerateContentResponse{})
		require.ErrorIs(t, err, errNoReply)
	})

	t.Run("top level text", func(t *testing.T) {
		got, err := replyText(textResponse("\n hai \n"))
		require.NoError(t, err)
		assert.Equal(t, "hai", got)
	})

	t.Run("later candidate parts concatenated", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: nil},
				{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
					{Text: " satu "},
					{Text: "dua "},
				}}},
				{Content: genai.NewContentFromText("ignored", genai.RoleModel)},
			},
		}
		got, err := replyText(resp)
		require.NoError(t, err)
		assert.Equal(t, "satu dua", got)
	})

	t.Run("first candidate with parts but blank text", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: "  "}}}},
			},
		}
		_, err := replyText(resp)
		require.ErrorIs(t, err, errNoReply)
	})
}
