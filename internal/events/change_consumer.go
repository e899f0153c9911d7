// Package events moves credential-change signals and sync outcomes over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"credential-sync/internal/model"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ChangeHandler processes one provider change notification.
type ChangeHandler func(ctx context.Context, before, after *model.IdentitySnapshot) error

// ChangeMessage is the wire shape of a provider change event.
type ChangeMessage struct {
	Before *model.IdentitySnapshot `json:"before"`
	After  *model.IdentitySnapshot `json:"after"`
}

// ChangeConsumer feeds provider change events to a handler. Every message is
// committed after one attempt, whatever the outcome, so a poison message or a
// failing sync never blocks the partition.
type ChangeConsumer struct {
	reader  MessageReader
	handler ChangeHandler
	logger  *zap.Logger
	backoff time.Duration
}

func NewChangeConsumer(reader MessageReader, handler ChangeHandler, logger *zap.Logger) *ChangeConsumer {
	return &ChangeConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
		backoff: time.Second,
	}
}

// DecodeChange parses a change message.
func DecodeChange(value []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}
	if msg.Before == nil && msg.After == nil {
		return nil, errors.New("decode change event: both snapshots missing")
	}
	return &msg, nil
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *ChangeConsumer) Run(ctx context.Context) error {
	c.logger.Info("Change event consumer started")
	defer c.logger.Info("Change event consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("Failed to fetch change event", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to commit change event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *ChangeConsumer) handle(ctx context.Context, msg kafka.Message) {
	change, err := DecodeChange(msg.Value)
	if err != nil {
		c.logger.Warn("Skipping undecodable change event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}

	if err := c.handler(ctx, change.Before, change.After); err != nil {
		c.logger.Error("Change event sync failed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}
