package salesfeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/roach88/kopikiosk/internal/sales"
)

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher sends sales to a Kafka topic. It implements sales.Publisher.
type Publisher struct {
	client  producer
	topic   string
	encoder *Encoder
	logger  *slog.Logger
}

// Config holds producer settings.
type Config struct {
	Brokers []string
	Topic   string
}

// NewPublisher connects a franz-go client to the brokers.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("sales feed: no brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.Info("sales feed connected", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return newPublisher(client, cfg.Topic, logger)
}

func newPublisher(client producer, topic string, logger *slog.Logger) (*Publisher, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: topic, encoder: enc, logger: logger}, nil
}

// Publish encodes and produces one record, keyed by order id so all lines
// of an order land on the same partition.
func (p *Publisher) Publish(ctx context.Context, r sales.Record) error {
	payload, err := p.encoder.Encode(r)
	if err != nil {
		return err
	}

	rec := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(r.OrderID),
		Value:     payload,
		Timestamp: time.Now().UTC(),
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish to kafka topic %s: %w", p.topic, err)
	}
	p.logger.Debug("sale published", "sale", r.ID, "topic", p.topic)
	return nil
}

// Close flushes and closes the client.
func (p *Publisher) Close() {
	p.client.Close()
}

var _ sales.Publisher = (*Publisher)(nil)
