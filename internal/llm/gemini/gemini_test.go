package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"persona-chat/internal/llm"
)

func TestResolveModelName(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		shape     llm.CallShape
		want      string
		wantShape bool
	}{
		{name: "positional bare", model: "gemini-1.5-flash", shape: llm.CallShapePositional, want: "gemini-1.5-flash"},
		{name: "positional resource", model: "models/gemini-1.5-flash", shape: llm.CallShapePositional, wantShape: true},
		{name: "named bare", model: " gemini-1.5-flash ", shape: llm.CallShapeNamed, want: "models/gemini-1.5-flash"},
		{name: "named resource", model: "tunedModels/mine", shape: llm.CallShapeNamed, want: "tunedModels/mine"},
		{name: "unknown shape", model: "x", shape: llm.CallShape(9), wantShape: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveModelName(tt.model, tt.shape)
			if tt.wantShape {
				require.ErrorIs(t, err, llm.ErrCallShape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resolveModelName("  ", llm.CallShapeNamed)
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrCallShape)
}

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(llm.ModelSpec{Temperature: 0.6, TopP: 0.9, SystemInstruction: "persona"})
	require.NotNil(t, cfg.Temperature)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.6, *cfg.Temperature, 1e-6)
	assert.InDelta(t, 0.9, *cfg.TopP, 1e-6)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "persona", cfg.SystemInstruction.Parts[0].Text)

	assert.Nil(t, generationConfig(llm.ModelSpec{}).SystemInstruction)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), " ", Options{})
	require.Error(t, err)
}

// fakeGemini records generateContent calls and answers with a fixed reply.
type fakeGemini struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]any
	status int
	reply  string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`)
		return
	}
	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": f.reply}},
				},
				"finishReason": "STOP",
			},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestBackend(t *testing.T, fake *fakeGemini) *Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := New(context.Background(), "test-key", Options{HTTPClient: srv.Client(), BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return b
}

func TestBackendRoundTrip(t *testing.T) {
	fake := &fakeGemini{reply: "halo Sopi"}
	b := newTestBackend(t, fake)
	ctx := context.Background()

	m, err := b.GenerativeModel(ctx, llm.ModelSpec{
		Name:              "gemini-1.5-flash",
		Shape:             llm.CallShapePositional,
		SystemInstruction: "Kamu Dava.",
		Temperature:       0.6,
		TopP:              0.9,
	})
	require.NoError(t, err)

	history := []*genai.Content{
		genai.NewContentFromText("hai", genai.RoleUser),
		genai.NewContentFromText("hai juga", genai.RoleModel),
	}
	sess, err := m.StartChat(ctx, history)
	require.NoError(t, err)

	resp, err := sess.SendMessage(ctx, "apa kabar?")
	require.NoError(t, err)
	assert.Equal(t, "halo Sopi", resp.Text())

	require.Len(t, fake.paths, 1)
	assert.True(t, strings.HasSuffix(fake.paths[0], "gemini-1.5-flash:generateContent"), fake.paths[0])

	contents, ok := fake.bodies[0]["contents"].([]any)
	require.True(t, ok, "request body: %v", fake.bodies[0])
	assert.Len(t, contents, 3)
	assert.Contains(t, fake.bodies[0], "systemInstruction")
}

func TestBackendSurfacesQuotaError(t *testing.T) {
	fake := &fakeGemini{status: http.StatusTooManyRequests}
	b := newTestBackend(t, fake)
	ctx := context.Background()

	m, err := b.GenerativeModel(ctx, llm.ModelSpec{Name: "gemini-1.5-flash", Shape: llm.CallShapeNamed})
	require.NoError(t, err)
	sess, err := m.StartChat(ctx, nil)
	require.NoError(t, err)

	_, err = sess.SendMessage(ctx, "hai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
