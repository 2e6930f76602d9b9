package registry

import (
	"context"
	"errors"
)

// ErrExists is returned by PutIfAbsent when the key is already taken.
var ErrExists = errors.New("registry key already exists")

// Backend is the storage behind a registry. Keys are slash-separated and
// relative to the backend's location. Both implementations expose the same
// external layout.
type Backend interface {
	// Put writes data under key, replacing any previous object atomically.
	Put(ctx context.Context, key string, data []byte) error
	// PutIfAbsent writes data under key only if no object exists there.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	// Get returns the object under key, or a not-found error.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether an object exists under key.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Location describes where the backend stores data, for messages.
	Location() string
}
