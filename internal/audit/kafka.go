package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/logging"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes error records and batch history entries to two topics.
type KafkaSink struct {
	writer     MessageWriter
	errorTopic string
	batchTopic string
	log        *slog.Logger
}

// NewKafkaSink creates a sink with a synchronous kafka.Writer. Topics are
// set per message, so the writer itself has none.
func NewKafkaSink(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.ErrorTopic == "" || cfg.BatchTopic == "" {
		return nil, fmt.Errorf("Kafka error and batch topics are required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}

	s := NewKafkaSinkFromWriter(writer, cfg.ErrorTopic, cfg.BatchTopic, logger)
	s.log.Info("kafka audit sink initialized",
		"brokers", cfg.Brokers,
		"error_topic", cfg.ErrorTopic,
		"batch_topic", cfg.BatchTopic,
		"required_acks", cfg.RequiredAcks)
	return s, nil
}

// NewKafkaSinkFromWriter wraps an existing writer.
func NewKafkaSinkFromWriter(w MessageWriter, errorTopic, batchTopic string, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{
		writer:     w,
		errorTopic: errorTopic,
		batchTopic: batchTopic,
		log:        logging.WithComponent(logger, "audit.kafka"),
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Publish writes one message per event. Error records are keyed by
// operation id so retries of one operation stay on one partition.
func (s *KafkaSink) Publish(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := s.message(ev)
		if err != nil {
			s.log.Warn("skipping unencodable audit event", "kind", ev.Kind, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	start := time.Now()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d messages to Kafka: %w", len(msgs), err)
	}
	s.log.Debug("produced audit events", "messages", len(msgs), "duration", time.Since(start))
	return nil
}

func (s *KafkaSink) message(ev Event) (kafka.Message, error) {
	var (
		topic   string
		key     string
		payload any
	)
	switch {
	case ev.Error != nil:
		topic = s.errorTopic
		key = ev.Error.Context.OperationID
		payload = ev.Error
	case ev.Batch != nil:
		topic = s.batchTopic
		payload = ev.Batch
	default:
		return kafka.Message{}, fmt.Errorf("empty %s event", ev.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s event: %w", ev.Kind, err)
	}

	msg := kafka.Message{
		Topic: topic,
		Value: data,
		Time:  ev.Timestamp(),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	if ev.Error != nil {
		msg.Headers = append(msg.Headers,
			kafka.Header{Key: "category", Value: []byte(ev.Error.Category)},
			kafka.Header{Key: "severity", Value: []byte(ev.Error.Severity)})
	}
	return msg, nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}
