package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"persona-chat/internal/config"
	"persona-chat/internal/models"
)

// DefaultMaxMessages is the retention window per contact.
const DefaultMaxMessages = 30

// ErrUnknownBackend indicates an unsupported memory.backend value.
var ErrUnknownBackend = errors.New("unknown memory backend")

// Store persists the recent conversation for each contact.
type Store interface {
	// GetHistory returns up to the retention window of messages, oldest
	// first. Unknown contacts yield an empty slice.
	GetHistory(ctx context.Context, contact string) ([]models.Message, error)
	// AppendMessage adds one message and drops the oldest beyond the window.
	AppendMessage(ctx context.Context, contact string, role models.Role, content string) error
	// ResetHistory empties one contact's conversation.
	ResetHistory(ctx context.Context, contact string) error
	Close() error
}

// Open constructs the store selected by cfg.
func Open(cfg config.MemoryConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case config.MemoryBackendJSON, "":
		return NewJSONStore(cfg.DataDir, cfg.MaxMessages, logger)
	case config.MemoryBackendSQLite:
		return NewSQLiteStore(cfg.DataDir, cfg.MaxMessages, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// NormalizeContact trims and lowercases a contact identifier.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

func retention(max int) int {
	if max <= 0 {
		return DefaultMaxMessages
	}
	return max
}

// lastN returns the tail of msgs holding at most n entries.
func lastN(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
