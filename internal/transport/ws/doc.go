// Package ws exposes the realtime messaging feed over websocket.
//
// Each accepted connection authenticates a user via JWT, owns exactly one
// session manager, and runs two pumps: the read pump dispatches client
// frames (message.send, conversation.select, ping) and the write pump
// pushes a full session snapshot whenever session state changes. Snapshots
// are self-contained, so a slow client that misses intermediate states
// still converges on the latest one.
//
// The session is torn down when the connection drops, whatever the cause,
// which releases its event bus subscription. A client that reconnects gets
// a fresh session and an immediate snapshot.
package ws
