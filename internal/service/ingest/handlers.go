package ingest

import (
	"context"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"go.uber.org/zap"
)

func (s *Service) handleOptIn(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error {
	if err := s.store(ctx, func(ctx context.Context) error {
		return s.convs.SetOptIn(ctx, conv.Phone, true, msg.Timestamp)
	}); err != nil {
		return err
	}
	s.log.Info("conversation opted in", zap.String("conversation_id", conv.ID))
	s.reply(conv.Phone, s.cfg.Replies.OptIn)
	return nil
}

func (s *Service) handleOptOut(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error {
	if err := s.store(ctx, func(ctx context.Context) error {
		return s.convs.SetOptIn(ctx, conv.Phone, false, msg.Timestamp)
	}); err != nil {
		return err
	}
	s.log.Info("conversation opted out", zap.String("conversation_id", conv.ID))
	s.reply(conv.Phone, s.cfg.Replies.OptOut)
	return nil
}

func (s *Service) handleHelp(_ context.Context, _ model.InboundMessage, conv model.Conversation) error {
	s.reply(conv.Phone, s.cfg.Replies.Help)
	return nil
}

// handleUnhandled is the extension point for business routing: the message
// is published to the outbox when enabled, otherwise only logged.
func (s *Service) handleUnhandled(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error {
	s.log.Info("unhandled inbound message",
		zap.String("provider_message_id", msg.ID),
		zap.String("conversation_id", conv.ID),
		zap.String("kind", string(msg.Kind)),
	)
	if !s.cfg.PublishUnhandled || s.outbox == nil {
		return nil
	}

	ev := model.InboundEvent{
		ProviderMessageID: msg.ID,
		ConversationID:    conv.ID,
		Phone:             conv.Phone,
		UserID:            conv.UserID,
		Kind:              string(msg.Kind),
		Body:              msg.Body(),
		ReceivedAt:        msg.Timestamp,
	}
	return s.store(ctx, func(ctx context.Context) error {
		return s.outbox.Insert(ctx, nil, model.AggregateInboundMessage, msg.ID, model.TopicInboundUnhandled, ev)
	})
}

// reply sends text in the background and records it as an outbound ledger entry.
func (s *Service) reply(phone, text string) {
	if text == "" {
		return
	}
	s.submit("reply", func(ctx context.Context) error {
		id, err := s.gateway.SendText(ctx, phone, text)
		if err != nil {
			return err
		}
		_, err = s.ledger.SaveOutbound(ctx, model.LedgerEntry{
			ProviderMessageID: id,
			Phone:             phone,
			Body:              text,
			MessageType:       string(model.KindText),
			CreatedAt:         s.now(),
		})
		return err
	})
}
