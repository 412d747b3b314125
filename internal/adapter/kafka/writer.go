package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/forecast-bias-service/internal/config"
	"github.com/couchcryptid/forecast-bias-service/internal/domain"
)

// messageWriter is the slice of kafkago.Writer the reject path uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// RejectWriter publishes rejected records to the reject topic so collectors
// can observe and fix what they produced. It implements
// pipeline.RejectPublisher.
type RejectWriter struct {
	writer messageWriter
	logger *slog.Logger
}

// NewRejectWriter creates a Kafka producer for the configured reject topic.
func NewRejectWriter(cfg *config.Config, logger *slog.Logger) *RejectWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaRejectTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &RejectWriter{writer: w, logger: logger}
}

// PublishReject serializes and publishes one rejected record.
func (w *RejectWriter) PublishReject(ctx context.Context, rejected domain.RejectedRecord) error {
	msg, err := serializeReject(rejected)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	w.logger.Debug("rejected record published",
		"source_topic", rejected.Topic,
		"reason", rejected.Reason,
	)
	return nil
}

func (w *RejectWriter) Close() error {
	return w.writer.Close()
}

// serializeReject marshals a RejectedRecord into a Kafka message. The reason
// rides in a header so consumers can route without parsing the body.
func serializeReject(rejected domain.RejectedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rejected)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize rejected record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rejected.Topic),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "reason", Value: []byte(rejected.Reason)},
			{Key: "occurred_at", Value: []byte(rejected.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
