package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ton-escrow-ledger-go/internal/metrics"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// KafkaEmitter publishes events to a Kafka topic keyed by hash or escrow id
type KafkaEmitter struct {
	writer *kafka.Writer
	mu     sync.RWMutex
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: writeTimeout,
		},
	}
}

// Emit writes one event. kafka.Writer is safe for concurrent use, so the
// lock only guards the writer handle, not the network round trip.
func (k *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	k.mu.RLock()
	writer := k.writer
	k.mu.RUnlock()

	if writer == nil {
		return fmt.Errorf("kafka emitter is closed")
	}

	value, err := event.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	metrics.EventsPublished.WithLabelValues("ok").Inc()
	zap.L().Debug("Emitted event to Kafka",
		zap.String("type", event.Type),
		zap.String("key", event.Key))
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
