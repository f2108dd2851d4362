// ABOUTME: In-memory fan-out event bus for realtime delivery
// ABOUTME: Publishes events to every live subscription on a user's stream

package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// eventBufferSize is the channel buffer for each subscription. A slow
// consumer overflowing it loses events rather than blocking the publisher;
// consumers recover by re-fetching, so delivery is at-least-once overall.
const eventBufferSize = 64

// EventBroadcaster provides in-memory pub/sub keyed by user ID. Each user
// has a stream; a session subscribes to exactly one stream and receives
// every event published to it while the subscription is live.
type EventBroadcaster struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan *Event // userID -> subID -> ch
	logger  *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		streams: make(map[string]map[string]chan *Event),
		logger:  logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscription on the given user's stream. Returns
// the event channel and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, userID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, eventBufferSize)

	b.mu.Lock()
	if _, ok := b.streams[userID]; !ok {
		b.streams[userID] = make(map[string]chan *Event)
	}
	b.streams[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscription added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends an event to every subscription on the user's stream.
// If excludeSubID is non-empty that subscription is skipped (used to avoid
// echoing events back to the originating session). Non-blocking: events
// are dropped for subscriptions whose channels are full.
//
// Sends happen under the read lock. Channels are only ever closed under
// the write lock (Unsubscribe, Close), so a send can never race a close;
// the sends are non-blocking, so holding the lock is cheap.
func (b *EventBroadcaster) Publish(userID string, event *Event, excludeSubID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.streams[userID]
	if !ok || len(subs) == 0 {
		return
	}

	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"user_id", userID,
				"event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// for a subscription that is already gone.
func (b *EventBroadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.streams[userID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.streams, userID)
	}

	b.logger.Debug("subscription removed", "user_id", userID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscription channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.streams {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.streams, userID)
	}

	b.logger.Debug("broadcaster closed")
}
