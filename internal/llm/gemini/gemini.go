package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"persona-chat/internal/llm"
)

const modelResourcePrefix = "models/"

// Backend implements llm.Backend on the Gemini API.
type Backend struct {
	client *genai.Client
}

// Options tunes the underlying genai client.
type Options struct {
	HTTPClient *http.Client
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// New creates a Gemini backend for the given API key.
func New(ctx context.Context, apiKey string, opts Options) (*Backend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key must not be empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Backend{client: client}, nil
}

// GenerativeModel resolves the model name for the requested call shape and
// binds the generation settings.
func (b *Backend) GenerativeModel(_ context.Context, spec llm.ModelSpec) (llm.GenerativeModel, error) {
	name, err := resolveModelName(spec.Name, spec.Shape)
	if err != nil {
		return nil, err
	}
	return &model{
		client: b.client,
		name:   name,
		config: generationConfig(spec),
	}, nil
}

// resolveModelName accepts bare ids for the positional shape and qualifies
// them as "models/<id>" for the named shape.
func resolveModelName(name string, shape llm.CallShape) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("model name must not be empty")
	}

	switch shape {
	case llm.CallShapePositional:
		if strings.Contains(name, "/") {
			return "", fmt.Errorf("%w: %q is a resource name", llm.ErrCallShape, name)
		}
		return name, nil
	case llm.CallShapeNamed:
		if strings.Contains(name, "/") {
			return name, nil
		}
		return modelResourcePrefix + name, nil
	default:
		return "", fmt.Errorf("%w: %s", llm.ErrCallShape, shape)
	}
}

func generationConfig(spec llm.ModelSpec) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(spec.Temperature),
		TopP:        genai.Ptr(spec.TopP),
	}
	if spec.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(spec.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

type model struct {
	client *genai.Client
	name   string
	config *genai.GenerateContentConfig
}

func (m *model) StartChat(ctx context.Context, history []*genai.Content) (llm.ChatSession, error) {
	chat, err := m.client.Chats.Create(ctx, m.name, m.config, history)
	if err != nil {
		return nil, err
	}
	return &session{chat: chat}, nil
}

type session struct {
	chat *genai.Chat
}

func (s *session) SendMessage(ctx context.Context, text string) (*genai.GenerateContentResponse, error) {
	return s.chat.SendMessage(ctx, genai.Part{Text: text})
}
