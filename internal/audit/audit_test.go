package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/stats"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ===== helpers

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
	block  chan struct{}
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, events []Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func errorRecord(id string) errorlog.Record {
	return errorlog.Record{
		Category: errorlog.CategoryNetwork,
		Severity: errorlog.SeverityHigh,
		Message:  "connection refused",
		Context:  errorlog.Context{OperationID: id, OperationType: "Set", Timestamp: epoch},
	}
}

// ===== dispatcher

func TestDispatcherDeliversInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(DispatcherOptions{FlushInterval: time.Hour, Logger: logging.Discard()}, pub)

	d.RecordError(errorRecord("a"))
	d.RecordBatch(stats.HistoryEntry{Timestamp: epoch, BatchSize: 3})
	d.RecordError(errorRecord("b"))

	require.NoError(t, d.Flush(context.Background()))
	events := pub.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, EventError, events[0].Kind)
	assert.Equal(t, "a", events[0].Error.Context.OperationID)
	assert.Equal(t, EventBatch, events[1].Kind)
	assert.Equal(t, 3, events[1].Batch.BatchSize)
	assert.Equal(t, "b", events[2].Error.Context.OperationID)

	published, failed, dropped := d.Stats()
	assert.Equal(t, int64(3), published)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)

	require.NoError(t, d.Close())
	assert.True(t, pub.closed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewDispatcher(DispatcherOptions{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour, Logger: logging.Discard()}, pub)

	for i := 0; i < 5; i++ {
		d.RecordError(errorRecord("x"))
	}
	_, _, dropped := d.Stats()
	assert.Equal(t, int64(3), dropped)
	assert.Equal(t, 2, d.Pending())

	close(pub.block)
	require.NoError(t, d.Close())
	assert.Len(t, pub.snapshot(), 2)
}

func TestDispatcherCountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := NewDispatcher(DispatcherOptions{FlushInterval: time.Hour, Logger: logging.Discard()}, pub)
	d.RecordError(errorRecord("a"))
	require.NoError(t, d.Flush(context.Background()))

	_, failed, _ := d.Stats()
	assert.Equal(t, int64(1), failed)
	require.NoError(t, d.Close())
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Logger: logging.Discard()})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	d.RecordError(errorRecord("a"))
	_, _, dropped := d.Stats()
	assert.Equal(t, int64(1), dropped)
	assert.ErrorIs(t, d.Flush(context.Background()), ErrDispatcherClosed)
}

func TestDispatcherTickerDelivers(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(DispatcherOptions{FlushInterval: 10 * time.Millisecond, Logger: logging.Discard()}, pub)
	defer d.Close()

	d.RecordError(errorRecord("a"))
	assert.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

// ===== kafka

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkRoutesByKind(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSinkFromWriter(w, "errors", "batches", logging.Discard())

	rec := errorRecord("op-1")
	entry := stats.HistoryEntry{Timestamp: epoch.Add(time.Second), BatchSize: 2, SuccessCount: 2}
	require.NoError(t, s.Publish(context.Background(), []Event{
		{Kind: EventError, Error: &rec},
		{Kind: EventBatch, Batch: &entry},
		{Kind: EventBatch},
	}))

	require.Len(t, w.msgs, 2)

	assert.Equal(t, "errors", w.msgs[0].Topic)
	assert.Equal(t, []byte("op-1"), w.msgs[0].Key)
	assert.Equal(t, epoch, w.msgs[0].Time)
	var gotRec errorlog.Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &gotRec))
	assert.Equal(t, rec.Message, gotRec.Message)
	assert.Contains(t, w.msgs[0].Headers, kafka.Header{Key: "category", Value: []byte("NetworkError")})

	assert.Equal(t, "batches", w.msgs[1].Topic)
	assert.Nil(t, w.msgs[1].Key)
	var gotEntry stats.HistoryEntry
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &gotEntry))
	assert.Equal(t, 2, gotEntry.SuccessCount)

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	s := NewKafkaSinkFromWriter(w, "errors", "batches", logging.Discard())
	rec := errorRecord("op-1")
	err := s.Publish(context.Background(), []Event{{Kind: EventError, Error: &rec}})
	assert.ErrorContains(t, err, "leader not available")
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaConfig{ErrorTopic: "e", BatchTopic: "b"}, logging.Discard())
	assert.Error(t, err)
	_, err = NewKafkaSink(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, logging.Discard())
	assert.Error(t, err)
}

// ===== redis

type fakeList struct {
	lists map[string][][]byte
}

func (f *fakeList) ListPushCapped(_ context.Context, key string, maxLen int64, values ...[]byte) error {
	l := append(f.lists[key], values...)
	if int64(len(l)) > maxLen {
		l = l[int64(len(l))-maxLen:]
	}
	f.lists[key] = l
	return nil
}

func (f *fakeList) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	l := f.lists[key]
	n := int64(len(l))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return l[start : stop+1], nil
}

func (f *fakeList) Close() error { return nil }

func TestRedisSinkCapsAndIgnoresBatches(t *testing.T) {
	store := &fakeList{lists: map[string][][]byte{}}
	s := NewRedisSink(store, "", 2, logging.Discard())

	var events []Event
	for _, id := range []string{"a", "b", "c"} {
		rec := errorRecord(id)
		events = append(events, Event{Kind: EventError, Error: &rec})
	}
	events = append(events, Event{Kind: EventBatch, Batch: &stats.HistoryEntry{}})
	require.NoError(t, s.Publish(context.Background(), events))

	assert.Len(t, store.lists["opqueue:errors"], 2)

	recent, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Context.OperationID)
	assert.Equal(t, "c", recent[1].Context.OperationID)

	require.NoError(t, s.Publish(context.Background(), []Event{{Kind: EventBatch, Batch: &stats.HistoryEntry{}}}))
	assert.Len(t, store.lists["opqueue:errors"], 2)
}

// ===== mysql

func TestDSN(t *testing.T) {
	dsn := DSN(config.MySQLConfig{
		Host: "db", Port: 3306, Database: "opqueue", Username: "app", Password: "secret",
		ConnectionTimeout: 5 * time.Second,
	})
	assert.True(t, strings.HasPrefix(dsn, "app:secret@tcp(db:3306)/opqueue?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestInsertSQL(t *testing.T) {
	q := insertSQL("archived_operations", 2)
	assert.True(t, strings.HasPrefix(q, "INSERT INTO `archived_operations` ("))
	assert.Equal(t, 28, strings.Count(q, "?"))
	assert.Contains(t, q, "ON DUPLICATE KEY UPDATE")
}

func TestArchiveArgs(t *testing.T) {
	started := epoch.Add(time.Second)
	done := epoch.Add(2 * time.Second)
	op := core.Operation{
		ID:                  "op-1",
		Kind:                core.SetOp{Key: "k", Value: "v"},
		Status:              core.StatusCompleted,
		Position:            7,
		QueuedAt:            epoch,
		ProcessingStartedAt: &started,
		CompletedAt:         &done,
		Result:              core.SetResult{Ok: true},
	}

	args, err := archiveArgs(op, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, args, strings.Count(archiveColumns, ",")+1)
	assert.Equal(t, "op-1", args[0])
	assert.Equal(t, "Set", args[1])
	assert.Equal(t, "k", args[2])
	assert.Equal(t, "v", args[3])
	assert.Equal(t, "Completed", args[4])
	assert.Equal(t, uint64(7), args[5])
	assert.Equal(t, "Set", args[9])
	assert.JSONEq(t, `{"ok":true}`, args[10].(string))
	assert.Nil(t, args[11])

	failed := core.Operation{ID: "op-2", Kind: core.GetOp{Key: "k"}, Status: core.StatusFailed, QueuedAt: epoch, ErrorMessage: "boom", RetryCount: 3}
	args, err = archiveArgs(failed, epoch)
	require.NoError(t, err)
	assert.Nil(t, args[3])
	assert.Nil(t, args[9])
	assert.Equal(t, "boom", args[11])
	assert.Equal(t, 3, args[12])
}

func TestNewMySQLArchiveRejectsTableName(t *testing.T) {
	_, err := NewMySQLArchiveFromDB(nil, "ops; DROP TABLE x", logging.Discard())
	assert.Error(t, err)
	_, err = NewMySQLArchive(context.Background(), config.MySQLConfig{Table: ""}, logging.Discard())
	assert.Error(t, err)
}
