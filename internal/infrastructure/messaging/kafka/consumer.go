package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// Handler processes one decoded event.  A handler error leaves the message
// uncommitted so the group redelivers it.
type Handler func(ctx context.Context, event common.EventMessage) error

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs the fetch/handle/commit loop for the ingest topic.
type Consumer struct {
	reader ReaderInterface
	logger logging.Logger
}

// NewConsumer constructs a group consumer from configuration.
func NewConsumer(cfg config.KafkaConfig, log logging.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &Consumer{reader: reader, logger: log}
}

// NewConsumerWithReader wraps an existing reader.  Used by tests.
func NewConsumerWithReader(r ReaderInterface, log logging.Logger) *Consumer {
	return &Consumer{reader: r, logger: log}
}

// Run consumes until ctx is cancelled.  Undecodable messages are committed
// and skipped; handler failures are logged and left for redelivery.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to fetch message")
		}

		var event common.EventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("skipping undecodable event",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Err(err),
			)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrCodeExternalService, "failed to commit message")
			}
			continue
		}

		if err := handle(ctx, event); err != nil {
			c.logger.Error("event handler failed",
				logging.String("kind", event.Kind),
				logging.String("session_id", string(event.SessionID)),
				logging.Err(err),
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to commit message")
		}
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
