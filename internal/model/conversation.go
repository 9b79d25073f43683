package model

import "time"

// Conversation is the per-counterpart record keyed by canonical phone.
type Conversation struct {
	ID             string     `db:"id" json:"id"`
	Phone          string     `db:"phone" json:"phone"`                       // E.164
	DisplayName    *string    `db:"display_name" json:"display_name"`         // last profile name seen
	UserID         *string    `db:"user_id" json:"user_id"`                   // set by identity resolution
	OptedIn        bool       `db:"opted_in" json:"opted_in"`                 // default false
	OptedInAt      *time.Time `db:"opted_in_at" json:"opted_in_at"`           // kept on opt-out for audit
	OptedOutAt     *time.Time `db:"opted_out_at" json:"opted_out_at"`         // cleared on opt-in
	LastInboundAt  *time.Time `db:"last_inbound_at" json:"last_inbound_at"`   // provider time
	LastOutboundAt *time.Time `db:"last_outbound_at" json:"last_outbound_at"` // provider time
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// OptedOut reports an explicit opt-out that has not been reversed.
func (c Conversation) OptedOut() bool {
	return !c.OptedIn && c.OptedOutAt != nil
}
