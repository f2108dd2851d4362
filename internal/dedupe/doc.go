// Package dedupe provides a small TTL cache for duplicate suppression.
//
// The event bus delivers at-least-once: a resubscribe with an overlapping
// filter, or a publish racing a teardown, can hand the same logical event
// to a consumer twice. Consumers call CheckAndMark with the stable event
// ID and skip the delivery when it returns true.
package dedupe
