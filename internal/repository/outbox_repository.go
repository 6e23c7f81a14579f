package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/transit-booking/internal/model"
	"github.com/iliyamo/transit-booking/internal/queue"
)

// OutboxRepo stores domain events in the outbox_events table.  Events are
// inserted inside the transaction that makes the state change they
// describe and are later claimed and published by the dispatcher.
type OutboxRepo struct {
	db *sqlx.DB
}

// NewOutboxRepo returns a new OutboxRepo bound to the provided database.
func NewOutboxRepo(db *sqlx.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// DB exposes the underlying handle so the dispatcher can open a unit of work.
func (r *OutboxRepo) DB() *sqlx.DB { return r.db }

// InsertTx writes ev as a NEW row correlated to aggregateID and returns
// the generated row id.  The caller commits or rolls back tx.
func (r *OutboxRepo) InsertTx(ctx context.Context, tx *sqlx.Tx, aggregateID string, ev queue.Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, 'NEW', 0, ?)`),
		id, aggregateID, ev.EventType(), payload, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert outbox %s: %w", ev.EventType(), err)
	}
	return id, nil
}

// ClaimBatchTx locks up to limit NEW rows, oldest first.  Rows already
// locked by another dispatcher are skipped, so concurrent instances work
// on disjoint batches.
func (r *OutboxRepo) ClaimBatchTx(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error) {
	var events []model.OutboxEvent
	err := sqlx.SelectContext(ctx, tx, &events, tx.Rebind(
		`SELECT id, aggregate_id, event_type, payload, status, retry_count, created_at, sent_at
		 FROM outbox_events
		 WHERE status = 'NEW'
		 ORDER BY created_at
		 LIMIT ? FOR UPDATE SKIP LOCKED`), limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSentTx records a successful publish.
func (r *OutboxRepo) MarkSentTx(ctx context.Context, tx *sqlx.Tx, id string, now time.Time) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE outbox_events SET status = 'SENT', sent_at = ? WHERE id = ?`), now.UTC(), id)
	return err
}

// SetRetryCountTx records a failed publish that will be attempted again.
func (r *OutboxRepo) SetRetryCountTx(ctx context.Context, tx *sqlx.Tx, id string, retryCount int) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE outbox_events SET retry_count = ? WHERE id = ?`), retryCount, id)
	return err
}

// MarkFailedTx parks a row permanently after its payload went to the
// dead-letter queue.
func (r *OutboxRepo) MarkFailedTx(ctx context.Context, tx *sqlx.Tx, id string, retryCount int) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE outbox_events SET status = 'FAILED', retry_count = ? WHERE id = ?`), retryCount, id)
	return err
}
