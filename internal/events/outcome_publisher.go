package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutcomeMessage is published once per terminal sync. It never carries the
// password value.
type OutcomeMessage struct {
	EventID         string           `json:"event_id"`
	Email           string           `json:"email"`
	Source          model.SyncSource `json:"source"`
	State           model.SyncState  `json:"state"`
	ProviderUpdated bool             `json:"provider_updated"`
	MirrorUpdated   bool             `json:"mirror_updated"`
	Divergent       bool             `json:"divergent"`
	ErrorClass      string           `json:"error_class,omitempty"`
	CompletedAt     time.Time        `json:"completed_at"`
}

type OutcomePublisher struct {
	writer  MessageWriter
	logger  *zap.Logger
	timeout time.Duration
}

func NewOutcomePublisher(writer MessageWriter, logger *zap.Logger) *OutcomePublisher {
	return &OutcomePublisher{writer: writer, logger: logger, timeout: 5 * time.Second}
}

// Observe publishes result keyed by email so outcomes for one identity stay
// ordered within a partition. Publishing is best-effort.
func (p *OutcomePublisher) Observe(ctx context.Context, result *model.SyncResult) {
	payload, err := json.Marshal(newOutcomeMessage(result))
	if err != nil {
		p.logger.Error("Failed to encode sync outcome", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(result.Email),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(result.EventID)},
			{Key: "state", Value: []byte(result.State)},
		},
	})
	if err != nil {
		p.logger.Warn("Failed to publish sync outcome",
			zap.String("event_id", result.EventID),
			util.Email(result.Email),
			zap.Error(fmt.Errorf("kafka write: %w", err)))
	}
}

func newOutcomeMessage(result *model.SyncResult) OutcomeMessage {
	return OutcomeMessage{
		EventID:         result.EventID,
		Email:           result.Email,
		Source:          result.Source,
		State:           result.State,
		ProviderUpdated: result.ProviderUpdated,
		MirrorUpdated:   result.MirrorUpdated,
		Divergent:       result.Divergent(),
		ErrorClass:      result.ErrorClass,
		CompletedAt:     result.CompletedAt,
	}
}
