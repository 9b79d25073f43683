package model

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) String() string { return string(d) }

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

type MessageStatus string

const (
	StatusReceived  MessageStatus = "received"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusDeleted   MessageStatus = "deleted"
)

var statusRanks = map[MessageStatus]int{
	StatusReceived:  0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusFailed:    4,
	StatusDeleted:   5,
}

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	_, ok := statusRanks[s]
	return ok
}

// Rank orders statuses along the delivery lifecycle. Unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	return statusRanks[s]
}

// LedgerEntry is one row of message_log, unique by ProviderMessageID.
type LedgerEntry struct {
	ProviderMessageID string        `db:"provider_message_id" json:"provider_message_id"`
	Direction         Direction     `db:"direction" json:"direction"`
	Phone             string        `db:"phone" json:"phone"`
	Body              string        `db:"body" json:"body"`
	Status            MessageStatus `db:"status" json:"status"`
	StatusRank        int           `db:"status_rank" json:"-"`
	ConversationID    string        `db:"conversation_id" json:"conversation_id"`
	UserID            *string       `db:"user_id" json:"user_id,omitempty"`
	MessageType       string        `db:"message_type" json:"message_type"`
	TemplateName      *string       `db:"template_name" json:"template_name,omitempty"` // outbound only
	RawPayload        []byte        `db:"raw_payload" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"` // provider event time
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
