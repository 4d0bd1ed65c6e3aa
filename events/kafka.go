package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/warp/balance-engine/ledger"
)

const (
	// DefaultTopic receives transaction events when none is configured.
	DefaultTopic = "ledger.transactions"

	// DefaultPublishTimeout bounds one publish. Posting waits on it, so it
	// stays far below the HTTP write timeout.
	DefaultPublishTimeout = 500 * time.Millisecond
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per transaction, keyed by account id
// so an account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           DefaultPublishTimeout,
			AllowAutoTopicCreation: true,
		},
		topic:   topic,
		timeout: DefaultPublishTimeout,
	}, nil
}

func (p *KafkaPublisher) PublishTransaction(ctx context.Context, tx ledger.Transaction) error {
	data, err := json.Marshal(NewTransactionEvent(tx))
	if err != nil {
		return err
	}

	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.AccountID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypeTransactionCreated)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
