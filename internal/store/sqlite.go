// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC 3339 with a fixed-width nanosecond field. Timestamps
// are stored as text and compared lexicographically in ORDER BY clauses,
// so the fractional part must not be trimmed.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_lo   TEXT NOT NULL,
			participant_hi   TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			last_activity_at TEXT NOT NULL,

			CHECK (participant_lo < participant_hi)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(participant_lo, participant_hi);

		CREATE INDEX IF NOT EXISTS idx_conversations_lo_activity
			ON conversations(participant_lo, last_activity_at);

		CREATE INDEX IF NOT EXISTS idx_conversations_hi_activity
			ON conversations(participant_hi, last_activity_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			recipient_id    TEXT NOT NULL,
			content         TEXT NOT NULL,
			kind            TEXT NOT NULL DEFAULT 'text',
			read            INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread
			ON messages(recipient_id, read);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetOrCreateConversation returns the single conversation for the unordered
// pair (userA, userB), creating it if absent. Safe under concurrent calls
// with the same pair: the unique index on the normalized pair makes the
// insert atomic, and a losing inserter falls back to selecting the winner's
// row. This is the insert-or-select pattern, not check-then-insert.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	lo, hi := NormalizePair(userA, userB)

	// Fast path: the pair usually already has a row
	conv, err := s.getConversationByPair(ctx, lo, hi)
	if err == nil {
		return conv, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	conv = &Conversation{
		ID:             newID(),
		ParticipantLo:  lo,
		ParticipantHi:  hi,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	query := `
		INSERT INTO conversations (id, participant_lo, participant_hi, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantLo,
		conv.ParticipantHi,
		conv.CreatedAt.UTC().Format(timeLayout),
		conv.LastActivityAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			// Lost the race: another caller inserted the pair first.
			// Their row is the canonical one.
			existing, lookupErr := s.getConversationByPair(ctx, lo, hi)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race",
					"conversation_id", existing.ID)
				return existing, nil
			}
			return nil, fmt.Errorf("lookup after duplicate insert: %w", lookupErr)
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "lo", lo, "hi", hi)
	return conv, nil
}

// GetConversationByPair looks up the conversation for an unordered pair
// without creating it. Returns ErrNotFound if the pair has never spoken.
func (s *SQLiteStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	lo, hi := NormalizePair(userA, userB)
	return s.getConversationByPair(ctx, lo, hi)
}

// getConversationByPair looks up a conversation by its normalized pair.
func (s *SQLiteStore) getConversationByPair(ctx context.Context, lo, hi string) (*Conversation, error) {
	query := `
		SELECT id, participant_lo, participant_hi, created_at, last_activity_at
		FROM conversations
		WHERE participant_lo = ? AND participant_hi = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, lo, hi))
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, participant_lo, participant_hi, created_at, last_activity_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// scanConversation scans a single conversation row, parsing timestamps.
func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, lastActivityStr string

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantLo,
		&conv.ParticipantHi,
		&createdAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastActivityAt, err = time.Parse(timeLayout, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &conv, nil
}

// TouchConversation bumps the last-activity timestamp.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE conversations SET last_activity_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, at.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListConversationsFor retrieves all conversations the user participates in,
// ordered by most recent activity.
func (s *SQLiteStore) ListConversationsFor(ctx context.Context, userID string) ([]*Conversation, error) {
	query := `
		SELECT id, participant_lo, participant_hi, created_at, last_activity_at
		FROM conversations
		WHERE participant_lo = ? OR participant_hi = ?
		ORDER BY last_activity_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		var createdAtStr, lastActivityStr string

		if err := rows.Scan(
			&conv.ID,
			&conv.ParticipantLo,
			&conv.ParticipantHi,
			&createdAtStr,
			&lastActivityStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.LastActivityAt, err = time.Parse(timeLayout, lastActivityStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_activity_at: %w", err)
		}

		conversations = append(conversations, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return conversations, nil
}

// SaveMessage appends a message. Messages are never updated through this
// path; the read flag changes only via MarkRead.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	kind := msg.Kind
	if kind == "" {
		kind = MessageKindText
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, kind, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.RecipientID,
		msg.Content,
		kind,
		boolToInt(msg.Read),
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListMessages retrieves messages for a conversation in chronological order
// (oldest first). If limit > 0 only the most recent `limit` messages are
// returned, still in chronological order. Ordering is by created_at, the
// authoritative key, regardless of insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in chronological order
		query = `
			SELECT id, conversation_id, sender_id, recipient_id, content, kind, read, created_at
			FROM (
				SELECT id, conversation_id, sender_id, recipient_id, content, kind, read, created_at
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC
				LIMIT ?
			)
			ORDER BY created_at ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, recipient_id, content, kind, read, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var readInt int

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.RecipientID,
			&msg.Content,
			&msg.Kind,
			&readInt,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Read = readInt != 0
		msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkRead flags every unread message from senderID to readerID as read
// and returns the number of rows updated. Idempotent: a second call with
// no new messages updates zero rows.
func (s *SQLiteStore) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	query := `
		UPDATE messages
		SET read = 1
		WHERE recipient_id = ? AND sender_id = ? AND read = 0
	`

	result, err := s.db.ExecContext(ctx, query, readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("marked messages read",
			"reader", readerID,
			"sender", senderID,
			"count", rowsAffected)
	}
	return rowsAffected, nil
}

// CountUnread returns the number of messages in the conversation addressed
// to viewerID that the viewer has not read.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND read = 0
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, viewerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// CountUnreadFor returns unread counts for every conversation of the viewer
// in a single grouped query. Conversations with no unread messages are
// absent from the map.
func (s *SQLiteStore) CountUnreadFor(ctx context.Context, viewerID string) (map[string]int, error) {
	query := `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE recipient_id = ? AND read = 0
		GROUP BY conversation_id
	`

	rows, err := s.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, fmt.Errorf("querying unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var conversationID string
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, fmt.Errorf("scanning unread count row: %w", err)
		}
		counts[conversationID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unread count rows: %w", err)
	}

	return counts, nil
}
