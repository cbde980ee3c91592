package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	// ProviderGemini is the only provider the orchestrator can drive.
	ProviderGemini = "gemini"

	DefaultModel       = "gemini-1.5-flash"
	DefaultMaxRetries  = 2
	DefaultBaseDelay   = 3 * time.Second
	DefaultCallTimeout = 60 * time.Second

	DefaultTemperature = 0.6
	DefaultTopP        = 0.9
)

// DefaultFallbackModels are consulted in order after the primary model.
var DefaultFallbackModels = []string{"gemini-2.0-flash", "gemini-1.5-flash-8b"}

// ErrCallShape is returned by a Backend when it does not accept the
// requested CallShape for a model. The orchestrator then tries the next shape.
var ErrCallShape = errors.New("model call shape not accepted")

// CallShape selects how a model is addressed when a session is constructed.
type CallShape int

const (
	// CallShapePositional addresses the model by its bare identifier.
	CallShapePositional CallShape = iota
	// CallShapeNamed addresses the model by its fully qualified resource name.
	CallShapeNamed
)

func (s CallShape) String() string {
	switch s {
	case CallShapePositional:
		return "positional"
	case CallShapeNamed:
		return "named"
	default:
		return fmt.Sprintf("CallShape(%d)", int(s))
	}
}

// ModelSpec scopes a generative model to one request.
type ModelSpec struct {
	Name              string
	Shape             CallShape
	SystemInstruction string
	Temperature       float32
	TopP              float32
}

// Backend constructs generative models on the remote provider.
type Backend interface {
	GenerativeModel(ctx context.Context, spec ModelSpec) (GenerativeModel, error)
}

// GenerativeModel opens chat sessions seeded with prior turns.
type GenerativeModel interface {
	StartChat(ctx context.Context, history []*genai.Content) (ChatSession, error)
}

// ChatSession sends the current turn and returns the raw provider response.
type ChatSession interface {
	SendMessage(ctx context.Context, text string) (*genai.GenerateContentResponse, error)
}

// Connector dials a Backend for the given credential.
type Connector func(ctx context.Context, apiKey string) (Backend, error)

// Config carries everything the orchestrator needs; nothing is read from the
// process environment at call time.
type Config struct {
	Provider        string
	APIKey          string
	SecondaryAPIKey string
	Model           string
	FallbackModels  []string
	MaxRetries      int
	BaseDelay       time.Duration
	CallTimeout     time.Duration
}

// DefaultConfig returns a configuration with every default filled in and no credential.
func DefaultConfig() Config {
	return Config{
		Provider:       ProviderGemini,
		Model:          DefaultModel,
		FallbackModels: append([]string(nil), DefaultFallbackModels...),
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		CallTimeout:    DefaultCallTimeout,
	}
}

func (c Config) apiKey() string {
	for _, key := range []string{c.APIKey, c.SecondaryAPIKey} {
		if k := strings.TrimSpace(key); k != "" {
			return k
		}
	}
	return ""
}

func (c Config) primaryModel() string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	return DefaultModel
}

// ModelChain returns the primary model followed by the fallbacks, with
// blanks and repeats of the primary removed.
func (c Config) ModelChain() []string {
	primary := c.primaryModel()
	chain := []string{primary}
	for _, name := range c.FallbackModels {
		name = strings.TrimSpace(name)
		if name == "" || name == primary {
			continue
		}
		chain = append(chain, name)
	}
	return chain
}

// WorstCaseDuration bounds one Chat call when every model in the chain uses
// each of its call timeouts and the full backoff schedule. Zero means
// unbounded.
func (c Config) WorstCaseDuration() time.Duration {
	if c.CallTimeout <= 0 {
		return 0
	}
	attempts := max(c.MaxRetries, 0) + 1
	// Two call shapes and one chat start precede the sends.
	perModel := time.Duration(attempts+3) * c.CallTimeout
	for i := range attempts - 1 {
		perModel += max(c.BaseDelay, 0) << i
	}
	return time.Duration(len(c.ModelChain())) * perModel
}

// ParseModelList splits a comma-separated model list, dropping blanks.
func ParseModelList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}
