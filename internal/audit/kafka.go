package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes notifications to a topic, keyed by aggregate so one
// aggregate's notifications stay on one partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, n models.Notification) error {
	msg, err := notificationMessage(n)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func notificationMessage(n models.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.AggregateKey()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(n.Kind)},
			{Key: "timestamp", Value: []byte(n.Timestamp.UTC().Format(time.RFC3339Nano))},
		},
	}, nil
}
