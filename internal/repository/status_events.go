package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// StatusEventsRepository is the append-only status history. Rows are never
// deduplicated and provider_message_id is not a foreign key.
type StatusEventsRepository interface {
	Insert(ctx context.Context, ev model.StatusEvent) (int64, error)
	ListByProviderID(ctx context.Context, providerMessageID string) ([]model.StatusEvent, error)
}

type StatusEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewStatusEventsRepository(db *sqlx.DB) *StatusEventsRepositoryImpl {
	return &StatusEventsRepositoryImpl{db: db}
}

var _ StatusEventsRepository = (*StatusEventsRepositoryImpl)(nil)

func (r *StatusEventsRepositoryImpl) Insert(ctx context.Context, ev model.StatusEvent) (int64, error) {
	const q = `
		INSERT INTO status_events
		    (provider_message_id, status, event_at, recipient_phone, error_code, error_title, raw_payload, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(6))
	`
	res, err := r.db.ExecContext(ctx, q,
		ev.ProviderMessageID, ev.Status.String(), ev.EventAt.UTC(), ev.RecipientPhone,
		ev.ErrorCode, ev.ErrorTitle, ev.RawPayload,
	)
	if err != nil {
		return 0, fmt.Errorf("insert status event %s/%s: %w", ev.ProviderMessageID, ev.Status, err)
	}
	return res.LastInsertId()
}

// ListByProviderID returns the history in event order.
func (r *StatusEventsRepositoryImpl) ListByProviderID(ctx context.Context, providerMessageID string) ([]model.StatusEvent, error) {
	var rows []model.StatusEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, provider_message_id, status, event_at, recipient_phone, error_code, error_title, raw_payload, created_at
		  FROM status_events
		 WHERE provider_message_id = ?
		 ORDER BY event_at, id
	`, providerMessageID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
