package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"ms-engagements/internal/logger"
	"ms-engagements/internal/payment"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConfirmationHandler fulfils one payment outcome. Errors that wrap a Permanent
// error are not retried.
type ConfirmationHandler func(ctx context.Context, c *payment.Confirmation) error

// Permanent marks a handler error that no redelivery can fix.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Consumer reads the payments.confirmed feed, an alternative to the Stripe webhook.
type Consumer struct {
	reader          messageReader
	Logger          *logger.Logger
	Topic           string
	MaxRetries      uint64
	RetryInterval   time.Duration
	RedeliveryDelay time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, Logger: log, Topic: topic, MaxRetries: 5, RetryInterval: 500 * time.Millisecond, RedeliveryDelay: 5 * time.Second}
}

// Start blocks until ctx is cancelled. An offset is committed only after its
// message was handled, skipped, or failed permanently. A message whose retries
// ran out is handed to the handler again after RedeliveryDelay and the
// partition does not advance past it.
func (c *Consumer) Start(ctx context.Context, handle ConfirmationHandler) error {
	c.Logger.LogKafka("START", c.Topic, "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message from %s: %v", c.Topic, err))
			continue
		}

		for {
			err := c.process(ctx, msg, handle)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Offset %d on %s not fulfilled, redelivering in %s: %v", msg.Offset, c.Topic, c.RedeliveryDelay, err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RedeliveryDelay):
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d on %s: %v", msg.Offset, c.Topic, err))
		}
	}
}

// process returns an error only when the message must be handled again.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, handle ConfirmationHandler) error {
	var conf payment.Confirmation
	if err := json.Unmarshal(msg.Value, &conf); err != nil {
		c.Logger.Error("KAFKA", fmt.Sprintf("Dropping undecodable message at offset %d: %v", msg.Offset, err))
		return nil
	}
	if !conf.Succeeded {
		c.Logger.LogKafka("SKIP", c.Topic, fmt.Sprintf("payment %s did not succeed", conf.TransactionID))
		return nil
	}

	op := func() error {
		err := handle(ctx, &conf)
		var perm *permanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryInterval), c.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *permanentError
		if errors.As(err, &perm) {
			c.Logger.Error("KAFKA", fmt.Sprintf("Confirmation %s from %s dropped: %v", conf.TransactionID, c.Topic, err))
			return nil
		}
		return fmt.Errorf("confirmation %s: %w", conf.TransactionID, err)
	}
	c.Logger.LogKafka("HANDLED", c.Topic, conf.TransactionID)
	return nil
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
