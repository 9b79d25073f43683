package model

import "time"

// StatusEvent is an append-only delivery callback record. ProviderMessageID
// may reference a message the ledger has not seen yet.
type StatusEvent struct {
	ID                int64         `db:"id" json:"id"`
	ProviderMessageID string        `db:"provider_message_id" json:"provider_message_id"`
	Status            MessageStatus `db:"status" json:"status"`
	EventAt           time.Time     `db:"event_at" json:"event_at"`
	RecipientPhone    string        `db:"recipient_phone" json:"recipient_phone"`
	ErrorCode         *int          `db:"error_code" json:"error_code,omitempty"`
	ErrorTitle        *string       `db:"error_title" json:"error_title,omitempty"`
	RawPayload        []byte        `db:"raw_payload" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}
