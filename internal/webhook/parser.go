package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
)

// ObjectWhatsAppBusiness is the only envelope object this parser accepts.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

var (
	ErrMalformedPayload    = errors.New("webhook: malformed payload")
	ErrUnsupportedEnvelope = errors.New("webhook: unsupported envelope object")
)

// ---- wire shapes ----

type wireEnvelope struct {
	Object string      `json:"object"`
	Entry  []wireEntry `json:"entry"`
}

type wireEntry struct {
	ID      string       `json:"id"`
	Changes []wireChange `json:"changes"`
}

type wireChange struct {
	Field string    `json:"field"`
	Value wireValue `json:"value"`
}

type wireValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         wireMetadata      `json:"metadata"`
	Contacts         []wireContact     `json:"contacts"`
	Messages         []json.RawMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type wireMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type wireContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type wireMessage struct {
	ID        string `json:"id" validate:"required"`
	From      string `json:"from" validate:"required,numeric"`
	Timestamp string `json:"timestamp" validate:"required,numeric"`
	Type      string `json:"type" validate:"required"`

	Text        *model.TextContent     `json:"text"`
	Image       *model.MediaContent    `json:"image"`
	Audio       *model.MediaContent    `json:"audio"`
	Video       *model.MediaContent    `json:"video"`
	Document    *model.MediaContent    `json:"document"`
	Sticker     *model.MediaContent    `json:"sticker"`
	Location    *model.LocationContent `json:"location"`
	Reaction    *model.ReactionContent `json:"reaction"`
	Button      *wireButton            `json:"button"`
	Interactive *wireInteractive       `json:"interactive"`
}

type wireButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type wireInteractive struct {
	Type        string              `json:"type"`
	ButtonReply *model.ReplyContent `json:"button_reply"`
	ListReply   *model.ReplyContent `json:"list_reply"`
}

type wireStatus struct {
	ID          string      `json:"id" validate:"required"`
	Status      string      `json:"status" validate:"required,oneof=sent delivered read failed deleted"`
	Timestamp   string      `json:"timestamp" validate:"required,numeric"`
	RecipientID string      `json:"recipient_id" validate:"required"`
	Errors      []wireError `json:"errors"`
}

type wireError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Parser decodes webhook envelopes into typed changes.
type Parser struct {
	validate *validator.Validate
}

func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// Parse decodes raw into one model.Change per entry change. Invalid JSON
// yields ErrMalformedPayload; a foreign object yields ErrUnsupportedEnvelope.
// Individual messages or statuses that fail validation are dropped and
// counted in Change.Rejected.
func (p *Parser) Parse(raw []byte) ([]model.Change, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(env.Object) != ObjectWhatsAppBusiness {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEnvelope, env.Object)
	}

	var changes []model.Change
	for _, entry := range env.Entry {
		for _, wc := range entry.Changes {
			changes = append(changes, p.decodeChange(wc))
		}
	}
	return changes, nil
}

func (p *Parser) decodeChange(wc wireChange) model.Change {
	ch := model.Change{
		Field:         wc.Field,
		PhoneNumberID: wc.Value.Metadata.PhoneNumberID,
		Contacts:      make(map[string]string, len(wc.Value.Contacts)),
	}
	for _, c := range wc.Value.Contacts {
		if phone := util.NormalizePhone(c.WaID); phone != "" {
			ch.Contacts[phone] = strings.TrimSpace(c.Profile.Name)
		}
	}

	for _, rm := range wc.Value.Messages {
		msg, err := p.decodeMessage(rm)
		if err != nil {
			ch.Rejected++
			continue
		}
		ch.Messages = append(ch.Messages, msg)
	}
	for _, rs := range wc.Value.Statuses {
		st, err := p.decodeStatus(rs)
		if err != nil {
			ch.Rejected++
			continue
		}
		ch.Statuses = append(ch.Statuses, st)
	}
	return ch
}

func (p *Parser) decodeMessage(raw json.RawMessage) (model.InboundMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.InboundMessage{}, err
	}
	if err := p.validate.Struct(&w); err != nil {
		return model.InboundMessage{}, err
	}
	ts, err := parseEpoch(w.Timestamp)
	if err != nil {
		return model.InboundMessage{}, err
	}

	msg := model.InboundMessage{
		ID:        w.ID,
		From:      w.From,
		Timestamp: ts,
		Kind:      model.ParseMessageKind(w.Type),
		Raw:       append(json.RawMessage(nil), raw...),
	}

	switch msg.Kind {
	case model.KindText:
		if w.Text == nil {
			return model.InboundMessage{}, errors.New("text message without text body")
		}
		msg.Text = w.Text
	case model.KindImage:
		msg.Media = w.Image
	case model.KindAudio:
		msg.Media = w.Audio
	case model.KindVideo:
		msg.Media = w.Video
	case model.KindDocument:
		msg.Media = w.Document
	case model.KindSticker:
		msg.Media = w.Sticker
	case model.KindLocation:
		msg.Location = w.Location
	case model.KindReaction:
		msg.Reaction = w.Reaction
	case model.KindButton:
		if w.Button != nil {
			msg.Reply = &model.ReplyContent{Title: w.Button.Text, Payload: w.Button.Payload}
		}
	case model.KindInteractive:
		if w.Interactive != nil {
			if w.Interactive.ButtonReply != nil {
				msg.Reply = w.Interactive.ButtonReply
			} else {
				msg.Reply = w.Interactive.ListReply
			}
		}
	}
	return msg, nil
}

func (p *Parser) decodeStatus(raw json.RawMessage) (model.StatusUpdate, error) {
	var w wireStatus
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.StatusUpdate{}, err
	}
	if err := p.validate.Struct(&w); err != nil {
		return model.StatusUpdate{}, err
	}
	ts, err := parseEpoch(w.Timestamp)
	if err != nil {
		return model.StatusUpdate{}, err
	}

	st := model.StatusUpdate{
		ProviderMessageID: w.ID,
		Status:            model.MessageStatus(w.Status),
		Timestamp:         ts,
		RecipientID:       w.RecipientID,
		Raw:               append(json.RawMessage(nil), raw...),
	}
	if len(w.Errors) > 0 {
		code := w.Errors[0].Code
		title := w.Errors[0].Title
		st.ErrorCode = &code
		st.ErrorTitle = &title
	}
	return st, nil
}

// parseEpoch converts provider "seconds since epoch" strings to UTC time.
func parseEpoch(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}
