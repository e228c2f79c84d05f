// Package executor performs queued operations against a core.KVStore.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/logging"
)

// KeyBuilder builds cache keys in the format {namespace}:{key}.
type KeyBuilder struct {
	namespace string
}

// NewKeyBuilder creates a key builder. An empty namespace leaves keys unchanged.
func NewKeyBuilder(namespace string) KeyBuilder {
	return KeyBuilder{namespace: namespace}
}

// BuildKey returns the store key for key.
func (kb KeyBuilder) BuildKey(key string) string {
	if kb.namespace == "" {
		return key
	}
	return kb.namespace + ":" + key
}

// Options configures a KVExecutor.
type Options struct {
	// KeyPrefix namespaces every key written to the store.
	KeyPrefix string

	// DefaultTTL is applied to Set operations. Zero never expires.
	DefaultTTL time.Duration

	// Timeout bounds a single store call. Zero leaves the context unchanged.
	Timeout time.Duration

	Logger *slog.Logger
}

// KVExecutor implements core.Executor on a KVStore.
type KVExecutor struct {
	store   core.KVStore
	keys    KeyBuilder
	ttl     time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// NewKVExecutor creates an executor writing to store.
func NewKVExecutor(store core.KVStore, opts Options) *KVExecutor {
	return &KVExecutor{
		store:   store,
		keys:    NewKeyBuilder(opts.KeyPrefix),
		ttl:     opts.DefaultTTL,
		timeout: opts.Timeout,
		log:     logging.WithComponent(opts.Logger, "executor"),
	}
}

// Execute runs kind against the store. A missing key is a successful Get
// with a nil value; every other store error fails the attempt.
func (e *KVExecutor) Execute(ctx context.Context, kind core.OperationKind) (core.OperationResult, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	switch k := kind.(type) {
	case core.SetOp:
		key := e.keys.BuildKey(k.Key)
		if err := e.store.Set(ctx, key, []byte(k.Value), e.ttl); err != nil {
			return nil, wrap("set", key, err)
		}
		e.log.Debug("set", "key", key)
		return core.SetResult{Ok: true}, nil

	case core.GetOp:
		key := e.keys.BuildKey(k.Key)
		val, err := e.store.Get(ctx, key)
		if errors.Is(err, core.ErrKeyNotFound) {
			e.log.Debug("get miss", "key", key)
			return core.GetResult{}, nil
		}
		if err != nil {
			return nil, wrap("get", key, err)
		}
		s := string(val)
		e.log.Debug("get hit", "key", key)
		return core.GetResult{Value: &s}, nil

	case core.DeleteOp:
		key := e.keys.BuildKey(k.Key)
		existed, err := e.store.Delete(ctx, key)
		if err != nil {
			return nil, wrap("delete", key, err)
		}
		e.log.Debug("delete", "key", key, "existed", existed)
		return core.DeleteResult{Ok: existed}, nil

	default:
		return nil, fmt.Errorf("validation failed: unsupported operation kind %T", kind)
	}
}

func wrap(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w", op, key, err)
}
