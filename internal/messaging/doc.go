// Package messaging provides the direct-messaging service layer and the
// realtime event bus.
//
// # Service
//
// The Service coordinates message operations against the store:
//
//	svc := messaging.NewService(store, bus, logger)
//
// Key operations:
//
//   - Send(ctx, sender, recipient, content): validate, persist, publish
//   - History(ctx, userA, userB, limit): chronological messages for a pair
//   - Conversations(ctx, userID): list by most recent activity
//   - MarkRead / ResetUnread: batch read transition, idempotent
//   - UnreadCount / UnreadCounts: derived counters
//
// Sends persist before publishing, so the store is always the source of
// truth and a missed event costs a refresh, never a message.
//
// # Event bus
//
// The EventBroadcaster fans persisted events out to per-user streams:
//
//	ch, subID := bus.Subscribe(ctx, userID)
//
// Delivery is at-least-once and non-blocking (slow subscribers drop);
// consumers order messages by creation timestamp, not arrival, and use
// the stable event ID for duplicate suppression.
package messaging
