package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AttemptsHeader counts how often a message has been handed to the processor.
const AttemptsHeader = "x-push-attempts"

// Handler processes one delivery and is responsible for acking it.
type Handler func(context.Context, amqp.Delivery) error

// QueueConfig names the broker objects a consumer reads from.
type QueueConfig struct {
	Exchange   string
	RoutingKey string
	Queue      string
	DeadLetter string
	Prefetch   int
	Workers    int
}

// BaseConsumer wires RabbitMQ connectivity, queue declaration and a worker pool.
type BaseConsumer struct {
	conn   *amqp.Connection
	cfg    QueueConfig
	logger *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func NewBaseConsumer(conn *amqp.Connection, cfg QueueConfig, logger *slog.Logger) *BaseConsumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "notifications.direct"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "push"
	}
	return &BaseConsumer{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
	}
}

// Start consumes until ctx is cancelled or the broker closes the channel.
func (c *BaseConsumer) Start(ctx context.Context, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	if err := c.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						// Broker side close; stop the other workers too.
						cancel()
						return
					}
					if err := handler(workerCtx, msg); err != nil {
						c.logger.Error("handler returned error", slog.Int("worker", id), slog.Any("error", err))
					}
				}
			}
		}(i)
	}

	wg.Wait()
	if ctx.Err() == nil {
		return fmt.Errorf("delivery channel for %s closed", c.cfg.Queue)
	}
	return nil
}

// Republish puts a copy of msg back on the work queue with the attempts header
// set. The caller acks the original afterwards.
func (c *BaseConsumer) Republish(msg amqp.Delivery, attempts int) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("consumer for %s is not started", c.cfg.Queue)
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[AttemptsHeader] = int32(attempts)

	return ch.Publish("", c.cfg.Queue, false, false, amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Body:          msg.Body,
	})
}

func (c *BaseConsumer) setupQueue(ch *amqp.Channel) error {
	args := amqp.Table{}
	if c.cfg.DeadLetter != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = c.cfg.DeadLetter
	}

	if err := ch.ExchangeDeclare(
		c.cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		return err
	}

	if err := ch.QueueBind(
		c.cfg.Queue,
		c.cfg.RoutingKey,
		c.cfg.Exchange,
		false,
		nil,
	); err != nil {
		return err
	}

	if c.cfg.DeadLetter != "" {
		if _, err := ch.QueueDeclare(
			c.cfg.DeadLetter,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
	}
	return nil
}
