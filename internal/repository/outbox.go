package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// OutboxRepository writes events that Debezium's outbox router publishes to
// Kafka, routed by the topic column.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil it opens and commits
	// its own transaction.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload any) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// Insert marshals payload to JSON. The column is JSON, so it is sent as text.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, UTC_TIMESTAMP(6))
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, string(raw)); err != nil {
			return fmt.Errorf("insert outbox %s/%s: %w", aggregate, aggregateID, err)
		}
		return nil
	})
}
