// ABOUTME: Wire frame envelope and payload types for the websocket feed
// ABOUTME: Client frames drive the session; server frames push state snapshots

package ws

import (
	"encoding/json"
	"time"

	"github.com/slatelearn/messaging/internal/session"
	"github.com/slatelearn/messaging/internal/store"
)

// Frame types - Client to Server
const (
	FrameMessageSend        = "message.send"
	FrameConversationSelect = "conversation.select"
	FramePing               = "ping"
)

// Frame types - Server to Client
const (
	FrameSessionSnapshot = "session.snapshot"
	FramePong            = "pong"
	FrameError           = "error"
)

// Frame is the envelope for all websocket messages in both directions.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// NewFrame creates a server frame with the current timestamp.
func NewFrame(frameType string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      frameType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// --- Client to Server payloads ---

// SendPayload carries a message.send request.
type SendPayload struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// SelectPayload carries a conversation.select request.
type SelectPayload struct {
	ConversationID string `json:"conversation_id"`
}

// --- Server to Client payloads ---

// ErrorPayload reports a failed client frame. The connection stays open.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SnapshotPayload is the full session view pushed after every state change.
// Snapshots are self-contained; a client can always render the latest one
// and discard the rest.
type SnapshotPayload struct {
	State          string             `json:"state"`
	Conversations  []ConversationView `json:"conversations"`
	Unread         map[string]int     `json:"unread"`
	ActiveID       string             `json:"active_conversation_id,omitempty"`
	ActiveMessages []MessageView      `json:"active_messages,omitempty"`
}

// ConversationView is the wire shape of a conversation list entry.
type ConversationView struct {
	ID             string    `json:"id"`
	OtherUserID    string    `json:"other_user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// MessageView is the wire shape of a message.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// snapshotFrom renders a session manager's current state for one user.
func snapshotFrom(m *session.Manager) SnapshotPayload {
	conversations := m.Conversations()
	views := make([]ConversationView, 0, len(conversations))
	for _, c := range conversations {
		views = append(views, ConversationView{
			ID:             c.ID,
			OtherUserID:    c.Other(m.UserID()),
			CreatedAt:      c.CreatedAt,
			LastActivityAt: c.LastActivityAt,
		})
	}

	return SnapshotPayload{
		State:          string(m.State()),
		Conversations:  views,
		Unread:         m.UnreadCounts(),
		ActiveID:       m.ActiveConversation(),
		ActiveMessages: messageViews(m.ActiveMessages()),
	}
}

func messageViews(msgs []*store.Message) []MessageView {
	if len(msgs) == 0 {
		return nil
	}
	views := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, MessageView{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			RecipientID:    msg.RecipientID,
			Content:        msg.Content,
			Kind:           msg.Kind,
			Read:           msg.Read,
			CreatedAt:      msg.CreatedAt,
		})
	}
	return views
}
