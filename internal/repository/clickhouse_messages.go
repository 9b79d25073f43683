package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// MessageReport is one row of the ClickHouse read model fed from message_log by CDC.
type MessageReport struct {
	ProviderMessageID string              `db:"provider_message_id" json:"provider_message_id"`
	Direction         string              `db:"direction" json:"direction"`
	Phone             string              `db:"phone" json:"phone"`
	Body              string              `db:"body" json:"body"`
	Status            model.MessageStatus `db:"status" json:"status"`
	MessageType       string              `db:"message_type" json:"message_type"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

type ReportFilter struct {
	Phone     string
	Direction model.Direction
	Status    model.MessageStatus
	Limit     int
	Offset    int
}

// CHMessagesRepository lists messages from ClickHouse (final view).
type CHMessagesRepository interface {
	List(ctx context.Context, f ReportFilter) ([]MessageReport, error)
}

type chMessagesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHMessagesRepository(ch *sqlx.DB) CHMessagesRepository {
	return &chMessagesRepository{ch: ch}
}

func (r *chMessagesRepository) List(ctx context.Context, f ReportFilter) ([]MessageReport, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT provider_message_id, direction, phone, body, status, message_type, created_at, updated_at
		FROM wagw.message_log_latest
		WHERE 1 = 1
	`
	var args []any

	if f.Phone != "" {
		q += " AND phone = ?"
		args = append(args, f.Phone)
	}
	if f.Direction != "" {
		q += " AND direction = ?"
		args = append(args, f.Direction.String())
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []MessageReport
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
