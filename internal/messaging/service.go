// ABOUTME: Service is the central layer for direct-message operations
// ABOUTME: All sends flow through here - persist first, then publish to the bus

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slatelearn/messaging/internal/store"
)

// MessageStore defines what the service needs from storage
type MessageStore interface {
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByPair(ctx context.Context, userA, userB string) (*store.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	ListConversationsFor(ctx context.Context, userID string) ([]*store.Conversation, error)

	SaveMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)

	CountUnread(ctx context.Context, conversationID, viewerID string) (int, error)
	CountUnreadFor(ctx context.Context, viewerID string) (map[string]int, error)
}

// Service coordinates message persistence, conversation bookkeeping, and
// realtime publication. The store is the source of truth: a message is
// persisted before any event for it is published.
type Service struct {
	store  MessageStore
	bus    *EventBroadcaster
	logger *slog.Logger
}

// NewService creates a messaging service. Pass nil logger for default.
func NewService(store MessageStore, bus *EventBroadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "messaging"),
	}
}

// Send validates, persists, and publishes a direct message.
//
// Validation failures (empty content, self-messaging) return a
// *ValidationError without touching storage. On success the message is
// saved with read=false, the conversation row is created or bumped, and
// a message_created event is published to both participants' streams.
func (s *Service) Send(ctx context.Context, senderID, recipientID, content string) (*store.Message, error) {
	if senderID == "" {
		return nil, &ValidationError{Field: "sender", Reason: "is required"}
	}
	if recipientID == "" {
		return nil, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	if senderID == recipientID {
		return nil, &ValidationError{Field: "recipient", Reason: "cannot equal sender"}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "cannot be empty"}
	}

	conv, err := s.store.GetOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	now := time.Now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Kind:           store.MessageKindText,
		Read:           false,
		CreatedAt:      now,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	if err := s.store.TouchConversation(ctx, conv.ID, now); err != nil {
		// Message is recorded; a stale activity timestamp only affects
		// list ordering until the next send, so don't fail the call.
		s.logger.Error("failed to bump conversation activity",
			"error", err,
			"conversation_id", conv.ID)
	}

	s.logger.Debug("message recorded",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"sender", senderID)

	s.publishToParticipants(&Event{
		ID:             msg.ID,
		Kind:           EventMessageCreated,
		ConversationID: conv.ID,
		Message:        msg,
		Timestamp:      now,
	}, senderID, recipientID)

	return msg, nil
}

// History returns the messages between two users in chronological order.
// Side-effect-free: a pair that has never spoken yields an empty slice,
// not a new conversation.
func (s *Service) History(ctx context.Context, userA, userB string, limit int) ([]*store.Message, error) {
	conv, err := s.store.GetConversationByPair(ctx, userA, userB)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}
	return s.store.ListMessages(ctx, conv.ID, limit)
}

// Messages returns the messages of one conversation in chronological order.
func (s *Service) Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID, limit)
}

// Conversations returns the user's conversations, most recently active first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	return s.store.ListConversationsFor(ctx, userID)
}

// Conversation returns one conversation by ID.
func (s *Service) Conversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// MarkRead flags all unread messages from otherID to readerID as read and
// returns the number updated. When anything changed, a conversation_updated
// event is published to the reader's stream so other views of the same
// user refresh their badge counts.
func (s *Service) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	updated, err := s.store.MarkRead(ctx, readerID, otherID)
	if err != nil {
		return 0, fmt.Errorf("marking read: %w", err)
	}
	if updated == 0 {
		return 0, nil
	}

	conv, err := s.store.GetConversationByPair(ctx, readerID, otherID)
	if err != nil {
		// Rows were updated so the pair exists; treat a lookup failure as
		// a missed notification, not a failed operation.
		s.logger.Error("failed to resolve conversation after mark-read",
			"error", err,
			"reader", readerID)
		return updated, nil
	}

	event := &Event{
		ID:             uuid.New().String(),
		Kind:           EventConversationUpdated,
		ConversationID: conv.ID,
		UserID:         readerID,
		Timestamp:      time.Now(),
	}
	s.bus.Publish(readerID, event, "")

	return updated, nil
}

// ResetUnread zeroes the viewer's unread count for a conversation by
// delegating to MarkRead against the other participant.
func (s *Service) ResetUnread(ctx context.Context, conversationID, viewerID string) (int64, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("resolving conversation: %w", err)
	}
	if !conv.Has(viewerID) {
		return 0, &ValidationError{Field: "viewer", Reason: "is not a participant"}
	}
	return s.MarkRead(ctx, viewerID, conv.Other(viewerID))
}

// UnreadCount returns the viewer's unread count for one conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	return s.store.CountUnread(ctx, conversationID, viewerID)
}

// UnreadCounts returns the viewer's unread counts for all conversations,
// keyed by conversation ID. Computed in one grouped query; conversations
// without unread messages are absent.
func (s *Service) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	return s.store.CountUnreadFor(ctx, viewerID)
}

// Subscribe opens a subscription on the user's event stream.
func (s *Service) Subscribe(ctx context.Context, userID string) (<-chan *Event, string) {
	return s.bus.Subscribe(ctx, userID)
}

// Unsubscribe closes a subscription opened with Subscribe.
func (s *Service) Unsubscribe(userID, subID string) {
	s.bus.Unsubscribe(userID, subID)
}

// publishToParticipants delivers one logical event to each participant's
// stream. The event ID is shared so duplicate suppression works per stream.
func (s *Service) publishToParticipants(ev *Event, participants ...string) {
	for _, userID := range participants {
		delivery := *ev
		delivery.UserID = userID
		s.bus.Publish(userID, &delivery, "")
	}
}
