package model

import "time"

const (
	// TopicOutbound carries OutboundRequest payloads to the sender worker.
	TopicOutbound = "wa.outbound"
	// TopicInboundUnhandled carries InboundEvent payloads for downstream routing.
	TopicInboundUnhandled = "wa.inbound.unhandled"

	AggregateOutboundMessage = "outbound_message"
	AggregateInboundMessage  = "inbound_message"
)

type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // e.g. "outbound_message"
	AggregateID string    `db:"aggregate_id"` // provider or request id
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	Attempts    int       `db:"attempts"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// OutboundRequest is the payload published on TopicOutbound.
type OutboundRequest struct {
	ID          string    `json:"id"` // ULID
	Phone       string    `json:"phone"`
	Text        string    `json:"text"`
	RequestedAt time.Time `json:"requested_at"`
}

// InboundEvent is the payload published on TopicInboundUnhandled.
type InboundEvent struct {
	ProviderMessageID string    `json:"provider_message_id"`
	ConversationID    string    `json:"conversation_id"`
	Phone             string    `json:"phone"`
	UserID            *string   `json:"user_id,omitempty"`
	Kind              string    `json:"kind"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"received_at"`
}
