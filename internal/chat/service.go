package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"persona-chat/internal/llm"
	"persona-chat/internal/memory"
	"persona-chat/internal/models"
	"persona-chat/internal/persona"
)

// ErrEmptyMessage indicates a chat request without any text.
var ErrEmptyMessage = errors.New("message must not be empty")

// Completer produces a reply for a conversation window.
type Completer interface {
	Chat(ctx context.Context, messages []models.Message, temperature, topP float64) (string, error)
}

// Request is one inbound chat turn.
type Request struct {
	Contact       string
	Message       string
	Salutation    string
	AllowIntimate *bool
}

// Reply is the outcome of a successful chat turn.
type Reply struct {
	Contact string
	Text    string
}

// Service loads history, builds the prompt window, asks the completer and
// records the exchange.
type Service struct {
	store   memory.Store
	persona *persona.Builder
	llm     Completer
	locks   *keyedMutex
	logger  *zap.Logger
}

// New constructs a chat service.
func New(store memory.Store, builder *persona.Builder, completer Completer, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if builder == nil {
		return nil, errors.New("persona builder must not be nil")
	}
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:   store,
		persona: builder,
		llm:     completer,
		locks:   newKeyedMutex(),
		logger:  logger,
	}, nil
}

// ResolveContact normalises a contact and falls back to the persona target.
func (s *Service) ResolveContact(contact string) string {
	if c := memory.NormalizeContact(contact); c != "" {
		return c
	}
	return memory.NormalizeContact(s.persona.TargetContact())
}

// TargetContact is the persona's default contact.
func (s *Service) TargetContact() string {
	return s.persona.TargetContact()
}

// Send handles one chat turn. Nothing is persisted when the completer fails.
func (s *Service) Send(ctx context.Context, req Request) (Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	contact := s.ResolveContact(req.Contact)

	unlock := s.locks.Lock(contact)
	defer unlock()

	history, err := s.store.GetHistory(ctx, contact)
	if err != nil {
		return Reply{}, fmt.Errorf("load history for %s: %w", contact, err)
	}

	system := s.persona.Build(persona.Options{
		Contact:       contact,
		Salutation:    req.Salutation,
		AllowIntimate: req.AllowIntimate,
	})

	window := make([]models.Message, 0, len(history)+2)
	window = append(window, models.NewMessage(models.RoleSystem, system))
	window = append(window, history...)
	window = append(window, models.NewMessage(models.RoleUser, message))

	reply, err := s.llm.Chat(ctx, window, llm.DefaultTemperature, llm.DefaultTopP)
	if err != nil {
		s.logger.Warn("chat completion failed", zap.String("contact", contact), zap.Error(err))
		return Reply{}, err
	}

	// The reply exists now; a caller that goes away must not leave half a turn.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.AppendMessage(persistCtx, contact, models.RoleUser, message); err != nil {
		return Reply{}, fmt.Errorf("record user message for %s: %w", contact, err)
	}
	if err := s.store.AppendMessage(persistCtx, contact, models.RoleAssistant, reply); err != nil {
		return Reply{}, fmt.Errorf("record reply for %s: %w", contact, err)
	}

	s.logger.Debug("chat turn recorded",
		zap.String("contact", contact),
		zap.Int("history", len(history)),
	)
	return Reply{Contact: contact, Text: reply}, nil
}

// Reset empties the contact's conversation.
func (s *Service) Reset(ctx context.Context, contact string) (string, error) {
	contact = s.ResolveContact(contact)

	unlock := s.locks.Lock(contact)
	defer unlock()

	if err := s.store.ResetHistory(ctx, contact); err != nil {
		return "", fmt.Errorf("reset history for %s: %w", contact, err)
	}
	s.logger.Info("history reset", zap.String("contact", contact))
	return contact, nil
}

// History returns the stored conversation for a contact.
func (s *Service) History(ctx context.Context, contact string) (string, []models.Message, error) {
	contact = s.ResolveContact(contact)
	history, err := s.store.GetHistory(ctx, contact)
	if err != nil {
		return "", nil, fmt.Errorf("load history for %s: %w", contact, err)
	}
	return contact, history, nil
}
