package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/quakewatch/quake-alert-service/internal/domain"
)

// KafkaSender publishes the batch to a Kafka topic, one message per event,
// keyed by the event's natural identity so downstream consumers can
// deduplicate.
type KafkaSender struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

func NewKafkaSender(ep KafkaEndpoint, logger *slog.Logger) *KafkaSender {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(ep.Brokers...),
		Topic:        ep.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaSender{writer: w, logger: logger}
}

// Send publishes all events in a single WriteMessages call. An empty batch
// publishes a single test message so connectivity checks actually reach the
// broker.
func (k *KafkaSender) Send(ctx context.Context, events []domain.Earthquake) error {
	if len(events) == 0 {
		if err := k.writer.WriteMessages(ctx, kafkaTestMessage()); err != nil {
			return fmt.Errorf("kafka send: %w", err)
		}
		k.logger.Debug("kafka test message published")
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	k.logger.Debug("kafka alerts published", "events", len(events))
	return nil
}

func (k *KafkaSender) Close() error {
	return k.writer.Close()
}

func kafkaTestMessage() kafkago.Message {
	return kafkago.Message{
		Key:   []byte("test"),
		Value: []byte(`{"message":"Test notification from Quake Alert Service"}`),
		Headers: []kafkago.Header{
			{Key: "test", Value: []byte("true")},
		},
	}
}

// serializeToMessage marshals one earthquake into a Kafka message.
func serializeToMessage(ev domain.Earthquake) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize earthquake: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.NaturalKey()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "quality", Value: []byte(ev.Quality)},
			{Key: "occurred_at", Value: []byte(ev.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
