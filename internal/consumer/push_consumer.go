package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/CyberwizD/webpush-service/internal/models"
	"github.com/CyberwizD/webpush-service/internal/services"
)

// Processor handles one decoded envelope.
type Processor interface {
	Process(ctx context.Context, envelope *models.MessageEnvelope) error
}

// Acknowledger is the subset of amqp.Delivery the consumer settles messages with.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

type PushConsumer struct {
	base          *BaseConsumer
	processor     Processor
	logger        *slog.Logger
	maxDeliveries int
}

func NewPushConsumer(base *BaseConsumer, processor Processor, logger *slog.Logger, maxDeliveries int) *PushConsumer {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &PushConsumer{
		base:          base,
		processor:     processor,
		logger:        logger,
		maxDeliveries: maxDeliveries,
	}
}

func (p *PushConsumer) Start(ctx context.Context) error {
	return p.base.Start(ctx, func(ctx context.Context, msg amqp.Delivery) error {
		republish := func(attempts int) error { return p.base.Republish(msg, attempts) }
		return p.handle(ctx, &msg, msg.Body, deliveryAttempts(msg.Headers, msg.Redelivered), republish)
	})
}

// handle decodes and processes one message, then settles it. attempts is the
// number of earlier tries. Messages that can never succeed are rejected
// straight to the dead letter queue; others go back on the queue through
// republish until maxDeliveries tries have been made.
func (p *PushConsumer) handle(ctx context.Context, ack Acknowledger, body []byte, attempts int, republish func(attempts int) error) error {
	var envelope models.MessageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		p.logger.Error("failed to unmarshal envelope", slog.Any("error", err))
		_ = ack.Reject(false)
		return err
	}

	if err := p.processor.Process(ctx, &envelope); err != nil {
		if errors.Is(err, services.ErrInvalidEnvelope) {
			p.logger.Error("invalid envelope dead-lettered", slog.String("request_id", envelope.RequestID), slog.Any("error", err))
			_ = ack.Reject(false)
			return err
		}
		tries := attempts + 1
		if tries >= p.maxDeliveries {
			p.logger.Error("processing failed, message dead-lettered", slog.String("request_id", envelope.RequestID), slog.Int("attempts", tries), slog.Any("error", err))
			_ = ack.Reject(false)
			return err
		}
		if rerr := republish(tries); rerr != nil {
			p.logger.Warn("republish failed, message requeued", slog.String("request_id", envelope.RequestID), slog.Any("error", rerr))
			_ = ack.Nack(false, true)
			return err
		}
		p.logger.Warn("processing failed, message scheduled again", slog.String("request_id", envelope.RequestID), slog.Int("attempts", tries), slog.Any("error", err))
		_ = ack.Ack(false)
		return err
	}

	return ack.Ack(false)
}

// deliveryAttempts reads how often a message was tried before: our own
// attempts header first, then the broker's x-death count, then the
// redelivered flag.
func deliveryAttempts(headers amqp.Table, redelivered bool) int {
	switch v := headers[AttemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	if deaths, ok := headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if table, ok := deaths[0].(amqp.Table); ok {
			if count, ok := table["count"].(int64); ok {
				return int(count)
			}
		}
	}
	if redelivered {
		return 1
	}
	return 0
}
