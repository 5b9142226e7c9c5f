package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/zdex/evcpms/internal/models"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications to a topic, keyed by user so one user's
// notifications stay ordered within a partition.
type Kafka struct {
	w messageWriter
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	return &Kafka{w: &kafka.Writer{
		Addr:     kafka.TCP(addrs...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}}, nil
}

func (k *Kafka) Notify(ctx context.Context, n models.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
	return errors.Wrap(err, "publish notification")
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
