// Package uuidv7 wraps google/uuid's time-ordered UUID generator, used
// wherever rtcd needs a fresh identity that sorts by creation time (this
// node's instance id when none is configured).
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value or panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a string representation of a UUIDv7.
func NewString() string {
	return New().String()
}
