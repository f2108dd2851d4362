// ABOUTME: ID generation for store entities
// ABOUTME: Wraps uuid so the store controls its own identifier format

package store

import "github.com/google/uuid"

// newID returns a fresh opaque identifier.
func newID() string {
	return uuid.New().String()
}
