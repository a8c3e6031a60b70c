package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/webpush-service/internal/models"
	"github.com/CyberwizD/webpush-service/internal/services"
)

type recordingAck struct {
	acked    bool
	nacked   bool
	requeue  bool
	rejected bool
}

func (r *recordingAck) Ack(bool) error { r.acked = true; return nil }
func (r *recordingAck) Nack(_, requeue bool) error {
	r.nacked, r.requeue = true, requeue
	return nil
}
func (r *recordingAck) Reject(requeue bool) error {
	r.rejected, r.requeue = true, requeue
	return nil
}

type processorFunc func(context.Context, *models.MessageEnvelope) error

func (f processorFunc) Process(ctx context.Context, env *models.MessageEnvelope) error {
	return f(ctx, env)
}

func noRepublish(t *testing.T) func(int) error {
	return func(int) error {
		t.Fatal("message must not be republished")
		return nil
	}
}

func newTestConsumer(proc Processor) *PushConsumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPushConsumer(nil, proc, logger, 3)
}

func TestHandleAcksProcessedMessage(t *testing.T) {
	var got *models.MessageEnvelope
	c := newTestConsumer(processorFunc(func(_ context.Context, env *models.MessageEnvelope) error {
		got = env
		return nil
	}))
	ack := &recordingAck{}

	err := c.handle(context.Background(), ack, []byte(`{"request_id":"r1","channel":"push","user_id":"u1","notification":{"title":"Hi","body":"There"}}`), 0, noRepublish(t))
	require.NoError(t, err)

	assert.True(t, ack.acked)
	require.NotNil(t, got)
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, "Hi", got.Notification.Title)
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	c := newTestConsumer(processorFunc(func(context.Context, *models.MessageEnvelope) error {
		t.Fatal("processor must not run")
		return nil
	}))
	ack := &recordingAck{}

	err := c.handle(context.Background(), ack, []byte(`{not json`), 0, noRepublish(t))
	require.Error(t, err)
	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestHandleDeadLettersInvalidEnvelope(t *testing.T) {
	c := newTestConsumer(processorFunc(func(context.Context, *models.MessageEnvelope) error {
		return fmt.Errorf("%w: missing user", services.ErrInvalidEnvelope)
	}))
	ack := &recordingAck{}

	err := c.handle(context.Background(), ack, []byte(`{"channel":"push"}`), 0, noRepublish(t))
	require.Error(t, err)
	assert.True(t, ack.rejected)
	assert.False(t, ack.requeue)
}

func TestHandleRepublishesUntilMaxDeliveries(t *testing.T) {
	failing := processorFunc(func(context.Context, *models.MessageEnvelope) error {
		return errors.New("database unavailable")
	})

	tests := []struct {
		name        string
		attempts    int
		republished int
	}{
		{"first delivery", 0, 1},
		{"below limit", 1, 2},
		{"last try", 2, 0},
		{"past limit", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAck{}
			republished := 0
			republish := func(attempts int) error {
				republished = attempts
				return nil
			}

			err := newTestConsumer(failing).handle(context.Background(), ack, []byte(`{"channel":"push"}`), tt.attempts, republish)
			require.Error(t, err)
			assert.Equal(t, tt.republished, republished)
			if tt.republished > 0 {
				assert.True(t, ack.acked)
			} else {
				assert.True(t, ack.rejected)
				assert.False(t, ack.requeue)
			}
		})
	}
}

func TestHandleFallsBackToRequeue(t *testing.T) {
	failing := processorFunc(func(context.Context, *models.MessageEnvelope) error {
		return errors.New("database unavailable")
	})
	ack := &recordingAck{}

	err := newTestConsumer(failing).handle(context.Background(), ack, []byte(`{"channel":"push"}`), 0, func(int) error {
		return errors.New("channel closed")
	})
	require.Error(t, err)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
	assert.False(t, ack.acked)
}

func TestDeliveryAttempts(t *testing.T) {
	assert.Equal(t, 0, deliveryAttempts(nil, false))
	assert.Equal(t, 1, deliveryAttempts(nil, true))

	headers := amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(4)}},
	}
	assert.Equal(t, 4, deliveryAttempts(headers, true))

	malformed := amqp.Table{"x-death": "oops"}
	assert.Equal(t, 1, deliveryAttempts(malformed, true))

	own := amqp.Table{AttemptsHeader: int32(2), "x-death": []interface{}{amqp.Table{"count": int64(9)}}}
	assert.Equal(t, 2, deliveryAttempts(own, true))
}
