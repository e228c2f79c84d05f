// Package kvstore provides the cache backends the executor writes to:
// Redis, DynamoDB and an in-process map.
package kvstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
)

// ErrClosed is returned by every method of a closed store.
var ErrClosed = errors.New("KV store is closed")

// Factory creates one kind of KV store. Each backend registers its factory
// from init; the same value validates that backend's configuration.
type Factory interface {
	config.KVStoreValidator

	// Create connects to the backend described by cfg.
	Create(cfg config.KVStoreConfig) (core.KVStore, error)
}

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// RegisterFactory registers f and its configuration validator.
// It panics on a nil factory, an empty type or a duplicate type.
func RegisterFactory(f Factory) {
	if f == nil {
		panic("factory cannot be nil")
	}
	if f.Type() == "" {
		panic("factory type cannot be empty")
	}

	factoriesMu.Lock()
	if _, exists := factories[f.Type()]; exists {
		factoriesMu.Unlock()
		panic(fmt.Sprintf("factory for type %q is already registered", f.Type()))
	}
	factories[f.Type()] = f
	factoriesMu.Unlock()

	config.RegisterValidator(f)
}

// Create validates cfg and builds the store for cfg.Type.
func Create(cfg config.KVStoreConfig) (core.KVStore, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	factoriesMu.RLock()
	f, exists := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", cfg.Type)
	}

	if err := f.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", cfg.Type, err)
	}
	return f.Create(cfg)
}

// RegisteredTypes lists the registered backend types in sorted order.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered reports whether a factory exists for storeType.
func IsTypeRegistered(storeType string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, exists := factories[storeType]
	return exists
}

func fieldErr(field, format string, args ...any) error {
	return &config.FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// validateTimeouts checks the connection settings shared by network backends.
func validateTimeouts(cfg config.KVStoreConfig) error {
	if cfg.DialTimeout <= 0 {
		return fieldErr("kvstore.dial_timeout", "must be greater than 0, got: %v", cfg.DialTimeout)
	}
	if cfg.ReadTimeout <= 0 {
		return fieldErr("kvstore.read_timeout", "must be greater than 0, got: %v", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout <= 0 {
		return fieldErr("kvstore.write_timeout", "must be greater than 0, got: %v", cfg.WriteTimeout)
	}
	if cfg.MaxRetries < 0 {
		return fieldErr("kvstore.max_retries", "must be non-negative, got: %d", cfg.MaxRetries)
	}
	return nil
}
