package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/transit-booking/internal/database"
	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
	"github.com/iliyamo/transit-booking/internal/repository"
)

// DispatchStats summarises one dispatcher pass.
type DispatchStats struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// OutboxDispatcher publishes NEW outbox rows to the broker.  Each pass
// claims a batch with SKIP LOCKED inside one transaction, so several
// instances can run side by side without publishing the same row
// concurrently.  Delivery is at-least-once: a crash after publishing and
// before commit publishes the batch again.
type OutboxDispatcher struct {
	db         *sqlx.DB
	outbox     *repository.OutboxRepo
	publisher  queue.Publisher
	interval   time.Duration
	batchSize  int
	maxRetries int
	logger     *logrus.Logger
	now        func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewOutboxDispatcher creates a dispatcher.  publisher is usually a
// queue.RetryingPublisher so that one failed pass already covers a few
// immediate attempts.
func NewOutboxDispatcher(outbox *repository.OutboxRepo, publisher queue.Publisher, interval time.Duration, batchSize, maxRetries int, logger *logrus.Logger) *OutboxDispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &OutboxDispatcher{
		db:         outbox.DB(),
		outbox:     outbox,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins polling in the background.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	d.logger.WithFields(logrus.Fields{
		"interval":    d.interval.String(),
		"batch_size":  d.batchSize,
		"max_retries": d.maxRetries,
	}).Info("Starting outbox dispatcher")
	go d.run(ctx)
}

// Stop ends polling and waits for the current pass to finish.
func (d *OutboxDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

func (d *OutboxDispatcher) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.WithError(err).Error("Outbox pass failed")
			}
		}
	}
}

// RunOnce performs one pass over at most one batch.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	err := database.WithTx(ctx, d.db, func(tx *sqlx.Tx) error {
		events, err := d.outbox.ClaimBatchTx(ctx, tx, d.batchSize)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		stats.Claimed = len(events)
		for _, ev := range events {
			if err := d.dispatch(ctx, tx, ev, &stats); err != nil {
				return fmt.Errorf("outbox %s: %w", ev.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return DispatchStats{}, err
	}
	if stats.Claimed > 0 {
		d.logger.WithFields(logrus.Fields{
			"claimed": stats.Claimed,
			"sent":    stats.Sent,
			"retried": stats.Retried,
			"failed":  stats.Failed,
		}).Debug("Outbox pass complete")
	}
	return stats, nil
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent, stats *DispatchStats) error {
	log := d.logger.WithFields(logrus.Fields{
		"outbox_id":    ev.ID,
		"event_type":   ev.EventType,
		"aggregate_id": ev.AggregateID,
	})

	decoded, err := queue.Decode(ev.EventType, ev.Payload)
	if err != nil {
		// A row that can never be published is parked straight away.
		log.WithError(err).Error("Undeliverable outbox event")
		return d.deadLetter(ctx, tx, ev, ev.RetryCount, stats, log)
	}

	msg := queue.Message{ID: ev.ID, Type: ev.EventType, Key: decoded.Key(), Body: ev.Payload}
	if err = d.publisher.Publish(ctx, msg); err == nil {
		stats.Sent++
		return d.outbox.MarkSentTx(ctx, tx, ev.ID, d.now())
	}
	log = log.WithError(err)

	retries := ev.RetryCount + 1
	if retries >= d.maxRetries {
		log.WithField("retry_count", retries).Error("Outbox event exhausted retries")
		return d.deadLetter(ctx, tx, ev, retries, stats, log)
	}
	log.WithField("retry_count", retries).Warn("Outbox publish failed, will retry")
	stats.Retried++
	return d.outbox.SetRetryCountTx(ctx, tx, ev.ID, retries)
}

// deadLetter forwards the raw payload to the DLQ and marks the row
// FAILED.  If the DLQ itself is unreachable the row stays NEW so the next
// pass tries again.
func (d *OutboxDispatcher) deadLetter(ctx context.Context, tx *sqlx.Tx, ev model.OutboxEvent, retries int, stats *DispatchStats, log *logrus.Entry) error {
	if err := d.publisher.PublishDeadLetter(ctx, ev.AggregateID, ev.Payload); err != nil {
		log.WithError(err).Error("Dead-letter publish failed")
		stats.Retried++
		return d.outbox.SetRetryCountTx(ctx, tx, ev.ID, retries)
	}
	stats.Failed++
	return d.outbox.MarkFailedTx(ctx, tx, ev.ID, retries)
}
