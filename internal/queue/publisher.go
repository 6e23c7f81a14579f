package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/utils"
)

// Publisher delivers encoded events to the broker.
type Publisher interface {
	// Publish sends msg to the topic named by its type.
	Publish(ctx context.Context, msg Message) error
	// PublishDeadLetter forwards a raw payload that exhausted its retries
	// to the service's dead-letter queue.
	PublishDeadLetter(ctx context.Context, key string, raw []byte) error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange with
// publisher confirms enabled, so a nil error means the broker accepted the
// message.  The connection is opened lazily and re-opened after failures.
type AMQPPublisher struct {
	url       string
	exchange  string
	deadQueue string
	logger    *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for exchange with deadQueue as its
// dead-letter queue.  No connection is made until the first publish.
func NewAMQPPublisher(url, exchange, deadQueue string, logger *logrus.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, exchange: exchange, deadQueue: deadQueue, logger: logger}
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         msg.Type,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"key": msg.Key},
		Body:         msg.Body,
	}
	return p.publish(ctx, p.exchange, msg.Type, pub)
}

// PublishDeadLetter implements Publisher.  The message goes through the
// default exchange straight to the dead-letter queue.
func (p *AMQPPublisher) PublishDeadLetter(ctx context.Context, key string, raw []byte) error {
	body, err := encodeDeadLetter(key, raw)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"key": key},
		Body:         body,
	}
	return p.publish(ctx, "", p.deadQueue, pub)
}

func (p *AMQPPublisher) publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, pub)
	if err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		p.reset()
		return fmt.Errorf("confirm %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked message", routingKey)
	}
	return nil
}

// channel returns the open confirm-mode channel, dialing when needed.
// Callers hold p.mu.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.deadQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", p.deadQueue, err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// RetryingPublisher retries each publish a bounded number of times with
// exponential backoff before reporting a single failure.
type RetryingPublisher struct {
	next     Publisher
	attempts int
	delay    time.Duration
	logger   *logrus.Logger
}

// NewRetryingPublisher wraps next.  attempts below one are treated as one;
// delay is the wait before the first retry.
func NewRetryingPublisher(next Publisher, attempts int, delay time.Duration, logger *logrus.Logger) *RetryingPublisher {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingPublisher{next: next, attempts: attempts, delay: delay, logger: logger}
}

// Publish implements Publisher.
func (r *RetryingPublisher) Publish(ctx context.Context, msg Message) error {
	return r.retry(ctx, msg.Type, func() error { return r.next.Publish(ctx, msg) })
}

// PublishDeadLetter implements Publisher.
func (r *RetryingPublisher) PublishDeadLetter(ctx context.Context, key string, raw []byte) error {
	return r.retry(ctx, "dead-letter", func() error { return r.next.PublishDeadLetter(ctx, key, raw) })
}

func (r *RetryingPublisher) retry(ctx context.Context, what string, fn func() error) error {
	var last error
	attempt := 0
	op := func() error {
		attempt++
		last = fn()
		return last
	}
	notify := func(err error, next time.Duration) {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"target":   what,
			"attempt":  attempt,
			"retry_in": next.String(),
		}).Warn("publish failed, retrying")
	}
	err := backoff.RetryNotify(op, utils.NewBackOff(ctx, r.delay, r.attempts-1), notify)
	if err == nil {
		return nil
	}
	// Cancellation during the wait reports the context error; keep the
	// publish failure next to it.
	if cerr := ctx.Err(); cerr != nil && last != nil && !errors.Is(last, cerr) {
		return errors.Join(last, cerr)
	}
	return err
}
