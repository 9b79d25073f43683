package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"github.com/jmoiron/sqlx"
)

// ErrDirectoryWriteFailed wraps every persistence error of the conversation directory.
var ErrDirectoryWriteFailed = errors.New("conversation directory write failed")

// ErrConversationNotFound is returned by updates that target an unknown phone.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationsRepository is the directory of one conversation per canonical phone.
type ConversationsRepository interface {
	Upsert(ctx context.Context, phone, displayName string, seenAt time.Time) (model.Conversation, error)
	LinkToUser(ctx context.Context, phone, userID string) error
	SetOptIn(ctx context.Context, phone string, optedIn bool, at time.Time) error
	TouchOutbound(ctx context.Context, tx *sqlx.Tx, phone string, at time.Time) (string, error)
	GetByPhone(ctx context.Context, phone string) (*model.Conversation, error)
}

type ConversationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewConversationsRepository(db *sqlx.DB) *ConversationsRepositoryImpl {
	return &ConversationsRepositoryImpl{db: db}
}

var _ ConversationsRepository = (*ConversationsRepositoryImpl)(nil)

const conversationColumns = `id, phone, display_name, user_id, opted_in, opted_in_at, opted_out_at,
	       last_inbound_at, last_outbound_at, created_at, updated_at`

func directoryErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDirectoryWriteFailed, op, err)
}

// Upsert creates the conversation on first contact or refreshes the display
// name and last inbound time. A single statement keeps concurrent first
// messages from the same phone on one row.
func (r *ConversationsRepositoryImpl) Upsert(ctx context.Context, phone, displayName string, seenAt time.Time) (model.Conversation, error) {
	const q = `
		INSERT INTO conversations
		    (id, phone, display_name, opted_in, last_inbound_at, created_at, updated_at)
		VALUES
		    (?,  ?,     NULLIF(?, ''), 0,      ?,               UTC_TIMESTAMP(6), UTC_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE
		    display_name    = COALESCE(VALUES(display_name), display_name),
		    last_inbound_at = GREATEST(COALESCE(last_inbound_at, VALUES(last_inbound_at)), VALUES(last_inbound_at)),
		    updated_at      = UTC_TIMESTAMP(6)
	`
	if _, err := r.db.ExecContext(ctx, q, util.New(), phone, displayName, seenAt.UTC()); err != nil {
		return model.Conversation{}, directoryErr("upsert", err)
	}

	var c model.Conversation
	if err := r.db.GetContext(ctx, &c, `SELECT `+conversationColumns+` FROM conversations WHERE phone = ?`, phone); err != nil {
		return model.Conversation{}, directoryErr("upsert read back", err)
	}
	return c, nil
}

// LinkToUser sets the identity link. Last write wins.
func (r *ConversationsRepositoryImpl) LinkToUser(ctx context.Context, phone, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		   SET user_id = ?, updated_at = UTC_TIMESTAMP(6)
		 WHERE phone = ?
	`, userID, phone)
	if err != nil {
		return directoryErr("link user", err)
	}
	return requireRow(res)
}

// SetOptIn records a subscription change. Opting in clears opted_out_at;
// opting out keeps opted_in_at for audit.
func (r *ConversationsRepositoryImpl) SetOptIn(ctx context.Context, phone string, optedIn bool, at time.Time) error {
	var q string
	if optedIn {
		q = `
			UPDATE conversations
			   SET opted_in = 1, opted_in_at = ?, opted_out_at = NULL, updated_at = UTC_TIMESTAMP(6)
			 WHERE phone = ?
		`
	} else {
		q = `
			UPDATE conversations
			   SET opted_in = 0, opted_out_at = ?, updated_at = UTC_TIMESTAMP(6)
			 WHERE phone = ?
		`
	}
	res, err := r.db.ExecContext(ctx, q, at.UTC(), phone)
	if err != nil {
		return directoryErr("set opt-in", err)
	}
	return requireRow(res)
}

// TouchOutbound records an outbound send on the conversation, creating it if
// the system messages a phone first. Returns the conversation id.
func (r *ConversationsRepositoryImpl) TouchOutbound(ctx context.Context, tx *sqlx.Tx, phone string, at time.Time) (string, error) {
	const q = `
		INSERT INTO conversations
		    (id, phone, opted_in, last_outbound_at, created_at, updated_at)
		VALUES
		    (?,  ?,     0,        ?,                UTC_TIMESTAMP(6), UTC_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE
		    last_outbound_at = GREATEST(COALESCE(last_outbound_at, VALUES(last_outbound_at)), VALUES(last_outbound_at)),
		    updated_at       = UTC_TIMESTAMP(6)
	`
	var id string
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q, util.New(), phone, at.UTC()); err != nil {
			return err
		}
		return tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE phone = ?`, phone)
	})
	if err != nil {
		return "", directoryErr("touch outbound", err)
	}
	return id, nil
}

// GetByPhone returns (nil, nil) when no conversation exists.
func (r *ConversationsRepositoryImpl) GetByPhone(ctx context.Context, phone string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `SELECT `+conversationColumns+` FROM conversations WHERE phone = ? LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return directoryErr("rows affected", err)
	}
	if n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()

	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}
