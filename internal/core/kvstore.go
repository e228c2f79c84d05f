package core

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by KVStore.Get when the key does not exist or has expired.
var ErrKeyNotFound = errors.New("key not found")

// KVStore defines the interface for the cache node a KVExecutor talks to.
// Implementations exist for Redis, DynamoDB and an in-process map.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store and reports whether a live value
	// was removed. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// Close closes the connection to the KV store and releases resources.
	Close() error
}
