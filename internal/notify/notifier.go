// Package notify tells downstream processors that a diagram landed in the
// object store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/domain"
)

type Notifier interface {
	UploadCompleted(ctx context.Context, event domain.UploadEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaNotifier struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	log     *zap.Logger
}

// NewKafkaNotifier returns a Kafka-backed notifier, or a no-op one when no
// broker is reachable.
func NewKafkaNotifier(ctx context.Context, brokers []string, topic string, log *zap.Logger) Notifier {
	if len(brokers) == 0 {
		log.Warn("No Kafka brokers configured, upload notifications disabled")
		return Noop()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", brokers[0])
	if err != nil {
		log.Warn("Kafka connection failed, upload notifications disabled",
			zap.Strings("brokers", brokers),
			zap.Error(err))
		return Noop()
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		log.Info("Could not create topic (might already exist)", zap.String("topic", topic), zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	log.Info("Connected to Kafka", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return newKafkaNotifier(writer, topic, log)
}

func newKafkaNotifier(writer messageWriter, topic string, log *zap.Logger) *kafkaNotifier {
	return &kafkaNotifier{
		writer:  writer,
		topic:   topic,
		timeout: 10 * time.Second,
		log:     log,
	}
}

func (n *kafkaNotifier) UploadCompleted(ctx context.Context, event domain.UploadEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal upload event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Time:  event.UploadedAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write upload event: %w", err)
	}

	n.log.Info("Upload event published", zap.String("topic", n.topic), zap.String("key", event.Key))
	return nil
}

func (n *kafkaNotifier) Close() error {
	return n.writer.Close()
}

type noopNotifier struct{}

func Noop() Notifier {
	return noopNotifier{}
}

func (noopNotifier) UploadCompleted(context.Context, domain.UploadEvent) error { return nil }

func (noopNotifier) Close() error { return nil }
