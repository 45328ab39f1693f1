package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/food-ledger/ledger"
)

// KafkaConfig configures the TransactionAdded Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes TransactionAdded events to a Kafka topic, keyed by
// content id so every event for a record lands on the same partition.
type KafkaPublisher struct {
	cfg    KafkaConfig
	log    *slog.Logger
	writer messageWriter
}

var errNoBrokers = errors.New("at least one kafka broker is required")

// NewKafkaPublisher builds a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(cfg, log, w), nil
}

func newKafkaPublisher(cfg KafkaConfig, log *slog.Logger, w messageWriter) *KafkaPublisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{
		cfg:    cfg,
		log:    log.With(slog.String("component", "kafka_publisher"), slog.String("topic", cfg.Topic)),
		writer: w,
	}
}

// Publish implements ledger.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev ledger.TransactionAdded) error {
	value, err := json.Marshal(NewMessage(ev))
	if err != nil {
		return fmt.Errorf("encode transaction added: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ContentID.String()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("write transaction added: %w", err)
	}
	p.log.Debug("published", slog.Uint64("position", ev.Position))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
