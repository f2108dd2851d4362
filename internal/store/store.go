// ABOUTME: Store interface and data types for direct-message persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// MessageKind constants for message kinds
const (
	MessageKindText = "text" // Regular text message (default)
)

// Conversation is the single canonical thread between two users.
// The participant pair is stored normalized (lo < hi lexicographically) so
// that an unordered pair always maps to the same row.
type Conversation struct {
	ID             string
	ParticipantLo  string
	ParticipantHi  string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.ParticipantLo == userID {
		return c.ParticipantHi
	}
	return c.ParticipantLo
}

// Has reports whether userID is one of the two participants.
func (c *Conversation) Has(userID string) bool {
	return c.ParticipantLo == userID || c.ParticipantHi == userID
}

// Message is a single direct message. Immutable after creation except the
// Read flag, which flips true when the recipient marks the conversation read.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	Kind           string // defaults to "text"
	Read           bool
	CreatedAt      time.Time
}

// NormalizePair orders two user IDs so the smaller sorts first.
// Both the unique index and every pair lookup go through this.
func NormalizePair(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Store defines the persistence interface for conversations and messages
type Store interface {
	// Conversations
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	ListConversationsFor(ctx context.Context, userID string) ([]*Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)

	// Unread bookkeeping
	CountUnread(ctx context.Context, conversationID, viewerID string) (int, error)
	CountUnreadFor(ctx context.Context, viewerID string) (map[string]int, error)

	// Close releases any resources held by the store
	Close() error
}
