// Package store provides SQLite-backed persistence for the direct-messaging
// core: conversations and messages.
//
// # Conversations
//
// A conversation is the single canonical thread between an unordered pair of
// users. The pair is normalized (lexicographically smaller ID first) and
// guarded by a unique index, so GetOrCreateConversation converges on one row
// even when both users start the conversation at the same instant: the insert
// either wins or fails the unique constraint, and the loser selects the
// winner's row.
//
// # Messages
//
// Messages are append-only. The only mutation in scope is MarkRead, which
// flips the read flag for every unread message from one sender to one reader.
// Listing orders strictly by creation timestamp, the authoritative ordering
// key for display.
//
// # Unread counts
//
// Unread counts are derived, never stored: CountUnread answers for one
// conversation, CountUnreadFor for all of a viewer's conversations in a
// single grouped query.
package store
