package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"persona-chat/internal/models"
)

// Orchestrator turns a message list into a Gemini chat call, walking the
// model chain and retrying quota failures with exponential backoff.
type Orchestrator struct {
	cfg     Config
	connect Connector
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	backend    Backend
	backendKey string
}

// New constructs an orchestrator. The connector is only dialled on the first
// Chat call that passes the configuration checks.
func New(cfg Config, connect Connector, logger *zap.Logger) (*Orchestrator, error) {
	if connect == nil {
		return nil, errors.New("connector must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}

	return &Orchestrator{
		cfg:     cfg,
		connect: connect,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Chat sends messages to the provider and returns the trimmed reply text.
// Every failure is reported as *Error.
func (o *Orchestrator) Chat(ctx context.Context, messages []models.Message, temperature, topP float64) (string, error) {
	provider := strings.ToLower(strings.TrimSpace(o.cfg.Provider))
	if provider != ProviderGemini {
		return "", configError("unsupported provider %q: set PROVIDER=%s", o.cfg.Provider, ProviderGemini)
	}
	apiKey := o.cfg.apiKey()
	if apiKey == "" {
		return "", configError("Gemini API key not found: set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	if len(messages) == 0 {
		return "", configError("no messages to send")
	}

	req := buildChatRequest(messages)

	backend, err := o.backendFor(ctx, apiKey)
	if err != nil {
		return "", &Error{kind: kindUpstream, msg: fmt.Sprintf("gemini error: connect: %v", err), err: err}
	}

	var lastErr error
	for _, model := range o.cfg.ModelChain() {
		reply, err := o.tryModel(ctx, backend, model, req, temperature, topP)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		o.logger.Warn("model failed, advancing model chain",
			zap.String("model", model),
			zap.Error(err),
		)
	}

	return "", exhaustedError(lastErr)
}

// tryModel runs the inner retry loop for a single model.
func (o *Orchestrator) tryModel(ctx context.Context, backend Backend, model string, req chatRequest, temperature, topP float64) (string, error) {
	spec := ModelSpec{
		Name:              model,
		SystemInstruction: req.systemInstruction,
		Temperature:       float32(temperature),
		TopP:              float32(topP),
	}

	session, err := o.openSession(ctx, backend, spec, req)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", model, err)
	}

	attempts := o.cfg.MaxRetries + 1
	for attempt := 0; ; attempt++ {
		reply, err := o.send(ctx, session, req.input)
		if err == nil {
			o.logger.Debug("chat reply received", zap.String("model", model), zap.Int("attempt", attempt+1))
			return reply, nil
		}
		if !isQuotaError(err) || attempt+1 >= attempts {
			return "", fmt.Errorf("model %s: %w", model, err)
		}

		delay := o.backoff(attempt)
		o.logger.Info("rate limited, backing off",
			zap.String("model", model),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("model %s: backoff interrupted: %w", model, err)
		}
	}
}

func (o *Orchestrator) openSession(ctx context.Context, backend Backend, spec ModelSpec, req chatRequest) (ChatSession, error) {
	model, err := o.generativeModel(ctx, backend, spec)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	session, err := model.StartChat(callCtx, req.history)
	if err != nil {
		return nil, fmt.Errorf("start chat: %w", err)
	}
	return session, nil
}

// generativeModel tries the positional call shape first and falls back to the
// named shape only when the backend rejects the shape itself.
func (o *Orchestrator) generativeModel(ctx context.Context, backend Backend, spec ModelSpec) (GenerativeModel, error) {
	var err error
	for _, shape := range []CallShape{CallShapePositional, CallShapeNamed} {
		spec.Shape = shape

		callCtx, cancel := o.callContext(ctx)
		var model GenerativeModel
		model, err = backend.GenerativeModel(callCtx, spec)
		cancel()

		if err == nil {
			return model, nil
		}
		if !errors.Is(err, ErrCallShape) {
			break
		}
		o.logger.Debug("call shape rejected", zap.String("model", spec.Name), zap.Stringer("shape", shape))
	}
	return nil, fmt.Errorf("construct model: %w", err)
}

func (o *Orchestrator) send(ctx context.Context, session ChatSession, text string) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	resp, err := session.SendMessage(callCtx, text)
	if err != nil {
		return "", err
	}
	return replyText(resp)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.cfg.BaseDelay << attempt
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.CallTimeout)
}

// backendFor reuses the dialled backend while the credential is unchanged.
func (o *Orchestrator) backendFor(ctx context.Context, apiKey string) (Backend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.backend != nil && o.backendKey == apiKey {
		return o.backend, nil
	}
	backend, err := o.connect(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("connector returned no backend")
	}
	o.backend = backend
	o.backendKey = apiKey
	return backend, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
