package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/utils"
)

// Handler processes one decoded event.  Returning nil acknowledges the
// message; any error requeues it for redelivery.  Handlers must be
// idempotent because delivery is at-least-once.
type Handler func(ctx context.Context, ev Event) error

// ConsumerConfig describes one service's subscription.
type ConsumerConfig struct {
	URL        string
	Exchange   string
	Queue      string
	EventTypes []string
	Prefetch   int
}

// Consumer binds a durable queue to the event types a service needs and
// feeds each delivery to a Handler.
type Consumer struct {
	cfg          ConsumerConfig
	handler      Handler
	logger       *logrus.Logger
	requeueDelay time.Duration
}

// NewConsumer returns a consumer; call Run to start it.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *logrus.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 50
	}
	return &Consumer{cfg: cfg, handler: handler, logger: logger, requeueDelay: time.Second}
}

// Run connects to the broker and consumes until ctx is cancelled.  Dial
// failures are retried with a doubling backoff capped at 30 seconds, and a
// dropped connection is re-established the same way.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WithError(err).Warn("consumer: consume loop ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// dial returns a broker connection, retrying until ctx ends.
func (c *Consumer) dial(ctx context.Context) (*amqp.Connection, error) {
	var conn *amqp.Connection
	op := func() error {
		var err error
		conn, err = amqp.Dial(c.cfg.URL)
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.WithError(err).WithField("retry_in", next.String()).Warn("consumer: failed to dial broker")
	}
	if err := backoff.RetryNotify(op, utils.NewBackOff(ctx, time.Second, utils.RetryForever), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.logger.WithError(err).Warn("consumer: set QoS failed")
	}
	if err := declareConsumerQueue(ch, c.cfg.Exchange, c.cfg.Queue, c.cfg.EventTypes); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.WithField("queue", c.cfg.Queue).Info("consumer: started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			ack, requeue := c.dispatch(ctx, deliveryType(d), d.Body)
			if ack {
				_ = d.Ack(false)
				continue
			}
			if requeue {
				// Keep a failing downstream from turning into a hot loop.
				select {
				case <-ctx.Done():
				case <-time.After(c.requeueDelay):
				}
			}
			_ = d.Nack(false, requeue)
		}
	}
}

// deliveryType prefers the AMQP type property and falls back to the
// routing key, which equals the type on the topic exchange.
func deliveryType(d amqp.Delivery) string {
	if d.Type != "" {
		return d.Type
	}
	return d.RoutingKey
}

// dispatch decodes and handles one message.  Unknown or malformed events
// are dropped (nack without requeue) so a poison message cannot block the
// queue; handler errors are requeued.
func (c *Consumer) dispatch(ctx context.Context, eventType string, body []byte) (ack, requeue bool) {
	ev, err := Decode(eventType, body)
	if err != nil {
		c.logger.WithError(err).WithField("event_type", eventType).Error("consumer: dropping undecodable message")
		return false, false
	}
	if err := c.handler(ctx, ev); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": eventType,
			"key":        ev.Key(),
		}).Warn("consumer: handler failed, requeueing")
		return false, true
	}
	return true, false
}
