// Package store provides typed access to the shared key-value store that all
// stateless invocations read and write. The store is the single source of
// truth: no component keeps poll state in memory beyond one invocation.
package store

import (
	"context"
	"time"
)

// Store is the shared key-value store adapter. Values are JSON-encoded.
//
// SetNX is the only atomic primitive the engine relies on: it creates a key
// only if absent, optionally with an expiry, and reports whether the create
// happened. Everything that must be decided exactly once (starting a poll,
// acquiring the resolution lock) goes through it.
type Store interface {
	// Get unmarshals the value at key into dest. Returns false when the key
	// does not exist; dest is left untouched in that case.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set writes the value at key, replacing any previous value.
	Set(ctx context.Context, key string, val interface{}) error

	// SetNX writes the value only if the key is absent. A zero ttl means no
	// expiry. Returns true if this call created the key.
	SetNX(ctx context.Context, key string, val interface{}, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// PushTail appends a value to the list at key.
	PushTail(ctx context.Context, key string, val interface{}) error

	// PopHead removes and unmarshals the head of the list at key. Returns
	// false when the list is empty or absent.
	PopHead(ctx context.Context, key string, dest interface{}) (bool, error)

	// ListLen returns the length of the list at key (0 when absent).
	ListLen(ctx context.Context, key string) (int64, error)
}
