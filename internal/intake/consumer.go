package intake

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Config selects the order topic.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer feeds order events from Kafka to a Handler. Offsets are
// committed only after an event was queued or found malformed, so a
// remote-store outage delays orders rather than losing them.
type Consumer struct {
	reader  messageReader
	handler *Handler
	logger  *slog.Logger
	retry   time.Duration
}

// NewConsumer creates a consumer-group reader for cfg.Topic.
func NewConsumer(cfg Config, handler *Handler, logger *slog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.Topic,
		MinBytes: 1e3,
		MaxBytes: 1e6,
	})
	return newConsumer(reader, handler, logger)
}

func newConsumer(reader messageReader, handler *Handler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
		retry:   time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// handle retries transient failures until the event is queued or ctx ends.
func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) error {
	for {
		err := c.handler.Handle(ctx, msg.Value)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformed) {
			c.logger.Warn("skipping order event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			return nil
		}
		c.logger.Warn("order event not queued, retrying", "offset", msg.Offset, "error", err)

		t := time.NewTimer(c.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
