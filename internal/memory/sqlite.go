package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"persona-chat/internal/models"
)

const sqliteFileName = "memory.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	contact    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_contact_seq ON messages(contact, seq);
`

// SQLiteStore keeps conversations as rows, one per message.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	max    int
	logger *zap.Logger
}

// NewSQLiteStore opens memory.db inside dataDir and ensures the schema.
func NewSQLiteStore(dataDir string, maxMessages int, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := filepath.Join(dataDir, sqliteFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps append-then-trim free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create messages schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		max:    retention(maxMessages),
		logger: logger,
	}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) GetHistory(ctx context.Context, contact string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT role, content, seq FROM messages
			WHERE contact = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`,
		NormalizeContact(contact), s.max,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	history := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, contact string, role models.Role, content string) error {
	key := NormalizeContact(contact)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE contact = ?`, key,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, contact, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), key, seq+1, role, content, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE contact = ? AND id NOT IN (
			SELECT id FROM messages WHERE contact = ? ORDER BY seq DESC LIMIT ?
		)`,
		key, key, s.max,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("history trimmed", zap.String("contact", key), zap.Int64("evicted", n))
	}
	return nil
}

func (s *SQLiteStore) ResetHistory(ctx context.Context, contact string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE contact = ?`, NormalizeContact(contact)); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
