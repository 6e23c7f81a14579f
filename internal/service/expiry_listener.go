package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/repository"
)

// ReservationExpirer is the part of the seat ledger the expiry listener
// drives.
type ReservationExpirer interface {
	Expire(ctx context.Context, reservationID string) error
}

// ExpiryListener turns Redis expired-key notifications for trigger keys
// into SeatLedger.Expire calls.  Notifications are fire-and-forget, so a
// missed one is caught later by the expiration sweeper.
type ExpiryListener struct {
	rdb        *redis.Client
	channel    string
	ledger     ReservationExpirer
	logger     *logrus.Logger
	retryDelay time.Duration
}

// NewExpiryListener subscribes to expiries in the cache's database.
func NewExpiryListener(cache *repository.ReservationCache, ledger ReservationExpirer, logger *logrus.Logger) *ExpiryListener {
	return &ExpiryListener{
		rdb:        cache.Client(),
		channel:    cache.ExpiredChannel(),
		ledger:     ledger,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Run enables expired-key events on the server and processes them until
// ctx is cancelled.  The subscription is re-established after errors.
func (l *ExpiryListener) Run(ctx context.Context) {
	if err := l.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		// Managed Redis often forbids CONFIG; the setting may already be on.
		l.logger.WithError(err).Warn("Could not enable keyspace notifications")
	}

	delay := l.retryDelay
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.WithError(err).WithField("channel", l.channel).Warn("Expiry subscription lost, resubscribing")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (l *ExpiryListener) listen(ctx context.Context) error {
	sub := l.rdb.Subscribe(ctx, l.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	l.logger.WithField("channel", l.channel).Info("Listening for reservation expiries")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

// handle processes one expired key name.  Keys other than trigger keys
// are ignored.
func (l *ExpiryListener) handle(ctx context.Context, key string) {
	id, ok := repository.ReservationIDFromTriggerKey(key)
	if !ok {
		return
	}
	if err := l.ledger.Expire(ctx, id); err != nil {
		l.logger.WithError(err).WithField("reservation_id", id).Error("Failed to expire reservation")
	}
}
