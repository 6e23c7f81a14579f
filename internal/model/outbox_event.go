package model

import "time"

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxNew    OutboxStatus = "NEW"
	OutboxSent   OutboxStatus = "SENT"
	OutboxFailed OutboxStatus = "FAILED"
)

// OutboxEvent is a domain event written in the same transaction as the
// state change that produced it and published later by the dispatcher.
type OutboxEvent struct {
	ID          string       `db:"id"`
	AggregateID string       `db:"aggregate_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	CreatedAt   time.Time    `db:"created_at"`
	SentAt      *time.Time   `db:"sent_at"`
}
