package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"persona-chat/internal/models"
)

const jsonFileName = "memory.json"

// JSONStore keeps every conversation in a single JSON document keyed by
// contact. Each operation reads and rewrites the whole file under a mutex.
type JSONStore struct {
	mu     sync.Mutex
	path   string
	max    int
	logger *zap.Logger
}

// NewJSONStore opens (creating if needed) memory.json inside dataDir.
func NewJSONStore(dataDir string, maxMessages int, logger *zap.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// 0700: conversation history is private to the service user.
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &JSONStore{
		path:   filepath.Join(dataDir, jsonFileName),
		max:    retention(maxMessages),
		logger: logger,
	}

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string][]models.Message{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat memory file: %w", err)
	}

	return s, nil
}

// Path returns the backing file location.
func (s *JSONStore) Path() string {
	return s.path
}

func (s *JSONStore) GetHistory(_ context.Context, contact string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.read()
	if err != nil {
		return nil, err
	}

	conv := lastN(store[NormalizeContact(contact)], s.max)
	out := make([]models.Message, len(conv))
	copy(out, conv)
	return out, nil
}

func (s *JSONStore) AppendMessage(_ context.Context, contact string, role models.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.read()
	if err != nil {
		return err
	}

	key := NormalizeContact(contact)
	conv := append(store[key], models.NewMessage(role, content))
	store[key] = lastN(conv, s.max)

	return s.write(store)
}

func (s *JSONStore) ResetHistory(_ context.Context, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	store, err := s.read()
	if err != nil {
		return err
	}
	store[NormalizeContact(contact)] = []models.Message{}

	return s.write(store)
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) read() (map[string][]models.Message, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}

	store := map[string][]models.Message{}
	if len(bytes.TrimSpace(data)) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("decode memory file %q: %w", s.path, err)
	}
	return store, nil
}

// write replaces the file atomically via a temp file and rename.
func (s *JSONStore) write(store map[string][]models.Message) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(store); err != nil {
		return fmt.Errorf("encode memory file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.json")
	if err != nil {
		return fmt.Errorf("create temp memory file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp memory file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp memory file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod memory file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace memory file: %w", err)
	}

	s.logger.Debug("memory file written", zap.String("path", s.path), zap.Int("contacts", len(store)))
	return nil
}
