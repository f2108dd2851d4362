// Package session holds the per-user conversation session state machine.
//
// # Lifecycle
//
//	Idle -> Loading -> Ready <-> Viewing -> Idle
//
// Start loads the conversation list and unread map, then opens exactly one
// bus subscription for the whole session lifetime. Subscription lifecycle
// is keyed to the user, never to view changes: selecting a conversation or
// refreshing state reuses the same handle, and only Close (or an explicit
// Resubscribe after a transport reconnect) touches it. Close releases the
// handle as the final teardown step on every exit path.
//
// # Event handling
//
// On every bus event the manager refreshes the conversation list and
// unread map; it refreshes the active conversation's messages only when
// the event pertains to it. Duplicate deliveries are suppressed by event
// ID, which makes resubscribe overlap safe. A failed refresh leaves the
// previous state visible and is retried on the next event or user action;
// nothing here is fatal to the session.
//
// # Stale fetches
//
// A Select fetch is tagged with the conversation it was issued for and
// discarded if the active conversation changed while it was in flight, so
// slow fetches cannot clobber newer state.
package session
