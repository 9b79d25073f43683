package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageKind tags which content field of an InboundMessage is populated.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindAudio       MessageKind = "audio"
	KindVideo       MessageKind = "video"
	KindDocument    MessageKind = "document"
	KindSticker     MessageKind = "sticker"
	KindLocation    MessageKind = "location"
	KindContacts    MessageKind = "contacts"
	KindInteractive MessageKind = "interactive"
	KindButton      MessageKind = "button"
	KindReaction    MessageKind = "reaction"
	KindUnsupported MessageKind = "unsupported"
)

// ParseMessageKind maps the provider "type" field; anything unknown is unsupported.
func ParseMessageKind(s string) MessageKind {
	switch k := MessageKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument, KindSticker,
		KindLocation, KindContacts, KindInteractive, KindButton, KindReaction:
		return k
	default:
		return KindUnsupported
	}
}

func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindDocument, KindSticker:
		return true
	}
	return false
}

type TextContent struct {
	Body string `json:"body"`
}

type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// ReplyContent covers interactive button/list replies and template quick-reply buttons.
type ReplyContent struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type ReactionContent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// InboundMessage is a decoded inbound message. Exactly one content pointer is
// set, selected by Kind; none is set for contacts and unsupported kinds.
type InboundMessage struct {
	ID        string
	From      string // provider format, digits only
	Timestamp time.Time
	Kind      MessageKind

	Text     *TextContent
	Media    *MediaContent
	Location *LocationContent
	Reply    *ReplyContent
	Reaction *ReactionContent

	Raw json.RawMessage
}

// Body resolves the text stored in the ledger and used for routing.
func (m InboundMessage) Body() string {
	switch {
	case m.Kind == KindText && m.Text != nil:
		return m.Text.Body
	case m.Reply != nil && m.Reply.Title != "":
		return m.Reply.Title
	case m.Reply != nil && m.Reply.Payload != "":
		return m.Reply.Payload
	case m.Media != nil && m.Media.Caption != "":
		return m.Media.Caption
	case m.Reaction != nil && m.Reaction.Emoji != "":
		return m.Reaction.Emoji
	}
	return "[" + string(m.Kind) + "]"
}

// StatusUpdate is a decoded delivery/read/failure callback.
type StatusUpdate struct {
	ProviderMessageID string
	Status            MessageStatus
	Timestamp         time.Time
	RecipientID       string
	ErrorCode         *int
	ErrorTitle        *string

	Raw json.RawMessage
}

// Change is one entry[].changes[] element of a webhook envelope.
type Change struct {
	Field         string
	PhoneNumberID string
	Contacts      map[string]string // canonical phone -> profile name
	Messages      []InboundMessage
	Statuses      []StatusUpdate
	Rejected      int // records dropped by validation
}
