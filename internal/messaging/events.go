// ABOUTME: Event types published on the realtime bus
// ABOUTME: One logical event per insert/update, delivered to each participant's stream

package messaging

import (
	"time"

	"github.com/slatelearn/messaging/internal/store"
)

// Event kinds
const (
	// EventMessageCreated fires after a message is persisted.
	EventMessageCreated = "message_created"
	// EventConversationUpdated fires after conversation state changes
	// without a new message (currently: mark-read).
	EventConversationUpdated = "conversation_updated"
)

// Event is a single bus notification. Delivery is at-least-once and
// unordered across streams; the message's CreatedAt is the authoritative
// ordering key, never arrival order. The ID is stable per logical event,
// so consumers can suppress duplicate deliveries.
type Event struct {
	ID             string
	Kind           string
	ConversationID string
	// UserID is the participant whose stream carries this delivery.
	UserID    string
	Message   *store.Message // set for message_created
	Timestamp time.Time
}
