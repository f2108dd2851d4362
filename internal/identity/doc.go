// Package identity authenticates users connecting to the messaging feed.
//
// Callers present an HS256-signed JWT; the "sub" claim carries the user
// ID that scopes every session, subscription, and unread count. The
// platform's account system issues the tokens; this package only
// verifies them.
package identity
