package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishImportCompleted writes event keyed by its run id.
func (p *KafkaPublisher) PublishImportCompleted(ctx context.Context, event ImportCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("PublishImportCompleted: encode: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(event.RunID),
		Value:   data,
		Headers: []kafka.Header{{Key: "event", Value: []byte("import.completed")}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("PublishImportCompleted: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
