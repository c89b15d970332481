package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/track360/track360-backend/pkg/logger"
)

const maxDeliveryAttempts = 3

// HeaderRetryCount carries the number of failed deliveries on a republished message.
const HeaderRetryCount = "x-retry-count"

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Disposition is what the consumer does with a delivery after dispatch.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
	// OnResult, when set, is called after every dispatch (metrics hook).
	OnResult func(eventType string, d Disposition)
}

// NewConsumer declares the dead letter exchange and the queue, then creates
// a consumer for it. Rejected messages land in dlq.<queueName>.
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if err := rmq.DeclareDeadLetterQueue(queueName); err != nil {
		return nil, err
	}
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue. It returns once the
// delivery loop is running; the loop exits when ctx is cancelled. A closed
// delivery channel triggers a reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.consume()
	if err != nil {
		return err
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go c.run(ctx, msgs)
	return nil
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return msgs, nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
			return
		case msg, ok := <-msgs:
			if ok {
				c.handleMessage(ctx, msg)
				continue
			}
			if ctx.Err() != nil {
				return
			}

			c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed, reconnecting")
			next, err := c.reconnect(ctx)
			if err != nil {
				c.logger.Error().Err(err).Str("queue", c.queueName).Msg("consumer stopped after failed reconnect")
				return
			}
			msgs = next
			c.logger.Info().Str("queue", c.queueName).Msg("consumer resumed")
		}
	}
}

func (c *Consumer) reconnect(ctx context.Context) (<-chan amqp.Delivery, error) {
	if err := c.rmq.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c.consume()
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	attempts := getRetryCount(msg)
	switch c.Dispatch(ctx, msg.Body, attempts) {
	case Ack:
		msg.Ack(false)
	case Requeue:
		c.retry(ctx, msg, attempts+1)
	default:
		msg.Reject(false)
	}
}

// retry republishes msg to the tail of the queue with attempts recorded in
// HeaderRetryCount, then acks the original delivery.
func (c *Consumer) retry(ctx context.Context, msg amqp.Delivery, attempts int) {
	if err := c.rmq.Channel().PublishWithContext(ctx, "", c.queueName, false, false, retryPublishing(msg, attempts)); err != nil {
		c.logger.Error().Err(err).Str("queue", c.queueName).Msg("failed to republish event, requeueing")
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

func retryPublishing(msg amqp.Delivery, attempts int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempts)

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		Body:          msg.Body,
	}
}

// Dispatch decodes body and runs the registered handler. attempts is the
// number of earlier failed deliveries of the same message.
func (c *Consumer) Dispatch(ctx context.Context, body []byte, attempts int) Disposition {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		return c.report("", DeadLetter)
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		return c.report(event.Type, Ack)
	}

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, &event); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("failed to process event")

		if attempts >= maxDeliveryAttempts || IsPermanent(err) {
			c.logger.Warn().
				Str("event_id", event.ID).
				Int("retry_count", attempts).
				Msg("giving up on event, sending to DLQ")
			return c.report(event.Type, DeadLetter)
		}

		return c.report(event.Type, Requeue)
	}

	return c.report(event.Type, Ack)
}

func (c *Consumer) report(eventType string, d Disposition) Disposition {
	if c.OnResult != nil {
		c.OnResult(eventType, d)
	}
	return d
}

// permanentError marks a handler failure that retrying cannot fix.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the consumer dead-letters the message instead of requeueing.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// getRetryCount returns the failed deliveries recorded on msg, from our own
// retry header or from the broker's x-death entries.
func getRetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	if n, ok := headerInt(msg.Headers[HeaderRetryCount]); ok {
		return n
	}

	count := 0
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if n, ok := headerInt(d["count"]); ok && n > count {
					count = n
				}
			}
		}
	}
	return count
}

func headerInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
