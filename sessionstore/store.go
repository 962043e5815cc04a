// Package sessionstore keeps small per-session key/value state, the part of
// the chat that has to survive a reload of the same browsing session.
package sessionstore

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for a key that was never set.
var ErrNotFound = errors.New("sessionstore: key not found")

// Store is a session-scoped key/value store.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
