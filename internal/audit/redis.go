package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/logging"
)

// ListStore is the list access the Redis sink needs. *kvstore.RedisKVStore
// implements it.
type ListStore interface {
	ListPushCapped(ctx context.Context, key string, maxLen int64, values ...[]byte) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Close() error
}

// RedisSink mirrors error records into a capped Redis list, newest last.
// Batch events are ignored.
type RedisSink struct {
	store      ListStore
	key        string
	maxEntries int64
	log        *slog.Logger
}

// NewRedisSink creates a sink writing to key, keeping at most maxEntries records.
func NewRedisSink(store ListStore, key string, maxEntries int, logger *slog.Logger) *RedisSink {
	if key == "" {
		key = "opqueue:errors"
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &RedisSink{
		store:      store,
		key:        key,
		maxEntries: int64(maxEntries),
		log:        logging.WithComponent(logger, "audit.redis"),
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Publish appends the error records among events in one pipeline.
func (s *RedisSink) Publish(ctx context.Context, events []Event) error {
	values := make([][]byte, 0, len(events))
	for _, ev := range events {
		if ev.Error == nil {
			continue
		}
		data, err := json.Marshal(ev.Error)
		if err != nil {
			s.log.Warn("skipping unencodable error record", "error", err)
			continue
		}
		values = append(values, data)
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.store.ListPushCapped(ctx, s.key, s.maxEntries, values...); err != nil {
		return err
	}
	s.log.Debug("mirrored error records", "key", s.key, "records", len(values))
	return nil
}

// Recent returns up to n of the newest mirrored records, oldest first.
func (s *RedisSink) Recent(ctx context.Context, n int) ([]errorlog.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.store.ListRange(ctx, s.key, -int64(n), -1)
	if err != nil {
		return nil, err
	}
	out := make([]errorlog.Record, 0, len(raw))
	for _, b := range raw {
		var rec errorlog.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode error record from %s: %w", s.key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the underlying store.
func (s *RedisSink) Close() error {
	return s.store.Close()
}
