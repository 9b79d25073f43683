package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

const mysqlErrDuplicateEntry = 1062

// SaveOutcome tells the caller whether a ledger insert created the row or
// hit an existing provider message id.
type SaveOutcome int

const (
	Saved SaveOutcome = iota + 1
	Duplicate
)

func (o SaveOutcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// LedgerRepository persists message_log. The unique key on
// provider_message_id is the only deduplication mechanism.
type LedgerRepository interface {
	SaveInbound(ctx context.Context, e model.LedgerEntry) (SaveOutcome, error)
	SaveOutbound(ctx context.Context, e model.LedgerEntry) (SaveOutcome, error)
	UpdateStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, monotonic bool) (bool, error)
	GetByProviderID(ctx context.Context, providerMessageID string) (*model.LedgerEntry, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.LedgerEntry, error)
}

type LedgerRepositoryImpl struct {
	db    *sqlx.DB
	convs ConversationsRepository
}

func NewLedgerRepository(db *sqlx.DB, convs ConversationsRepository) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db, convs: convs}
}

var _ LedgerRepository = (*LedgerRepositoryImpl)(nil)

const ledgerColumns = `provider_message_id, direction, phone, body, status, status_rank, conversation_id,
	       user_id, message_type, template_name, raw_payload, created_at, updated_at`

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}

func (r *LedgerRepositoryImpl) insert(ctx context.Context, ex sqlx.ExecerContext, e model.LedgerEntry) error {
	const q = `
		INSERT INTO message_log
		    (provider_message_id, direction, phone, body, status, status_rank, conversation_id,
		     user_id, message_type, template_name, raw_payload, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(6))
	`
	_, err := ex.ExecContext(ctx, q,
		e.ProviderMessageID, e.Direction.String(), e.Phone, e.Body, e.Status.String(), e.Status.Rank(),
		e.ConversationID, e.UserID, e.MessageType, e.TemplateName, e.RawPayload, e.CreatedAt.UTC(),
	)
	return err
}

// SaveInbound inserts an inbound entry. A redelivered provider id yields
// Duplicate with a nil error.
func (r *LedgerRepositoryImpl) SaveInbound(ctx context.Context, e model.LedgerEntry) (SaveOutcome, error) {
	e.Direction = model.DirectionInbound
	if e.Status == "" {
		e.Status = model.StatusReceived
	}
	if err := r.insert(ctx, r.db, e); err != nil {
		if isDuplicateKey(err) {
			return Duplicate, nil
		}
		return 0, fmt.Errorf("save inbound %s: %w", e.ProviderMessageID, err)
	}
	return Saved, nil
}

// SaveOutbound records a message the gateway sent, keyed by the id the send
// API returned, and bumps the conversation's last outbound time in the same
// transaction.
func (r *LedgerRepositoryImpl) SaveOutbound(ctx context.Context, e model.LedgerEntry) (SaveOutcome, error) {
	e.Direction = model.DirectionOutbound
	e.Status = model.StatusSent

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save outbound: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	convID, err := r.convs.TouchOutbound(ctx, tx, e.Phone, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save outbound %s: %w", e.ProviderMessageID, err)
	}
	e.ConversationID = convID

	if err := r.insert(ctx, tx, e); err != nil {
		if isDuplicateKey(err) {
			return Duplicate, nil
		}
		return 0, fmt.Errorf("save outbound %s: %w", e.ProviderMessageID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save outbound %s: commit: %w", e.ProviderMessageID, err)
	}
	return Saved, nil
}

// UpdateStatus overwrites the entry's status and reports whether a row
// matched. With monotonic set, a status never replaces a higher-ranked one.
func (r *LedgerRepositoryImpl) UpdateStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, monotonic bool) (bool, error) {
	q := `UPDATE message_log SET status = ?, status_rank = ?, updated_at = UTC_TIMESTAMP(6) WHERE provider_message_id = ?`
	args := []any{status.String(), status.Rank(), providerMessageID}
	if monotonic {
		q += " AND status_rank <= ?"
		args = append(args, status.Rank())
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", providerMessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByProviderID returns (nil, nil) when the id is unknown.
func (r *LedgerRepositoryImpl) GetByProviderID(ctx context.Context, providerMessageID string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := r.db.GetContext(ctx, &e, `SELECT `+ledgerColumns+` FROM message_log WHERE provider_message_id = ? LIMIT 1`, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByConversation returns the newest entries first.
func (r *LedgerRepositoryImpl) ListByConversation(ctx context.Context, conversationID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []model.LedgerEntry
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		  FROM message_log
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
