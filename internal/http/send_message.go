package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"github.com/labstack/echo/v4"
)

type sendReq struct {
	Phone string `json:"phone" validate:"required"`
	Text  string `json:"text" validate:"required,max=4096"`
}

// sendMessageHandler queues an outbound text through the outbox. The sender
// worker delivers it and records it in the ledger.
func sendMessageHandler(convs repository.ConversationsRepository, outbox repository.OutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Phone = util.NormalizePhone(strings.TrimSpace(req.Phone))
		req.Text = strings.TrimSpace(req.Text)
		if err := c.Validate(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		ctx := c.Request().Context()
		conv, err := convs.GetByPhone(ctx, req.Phone)
		if err != nil {
			c.Logger().Errorf("conversation lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if conv != nil && conv.OptedOut() {
			return c.JSON(http.StatusConflict, map[string]string{"error": "recipient opted out"})
		}

		out := model.OutboundRequest{
			ID:          util.New(),
			Phone:       req.Phone,
			Text:        req.Text,
			RequestedAt: time.Now().UTC(),
		}
		if err := outbox.Insert(ctx, nil, model.AggregateOutboundMessage, out.ID, model.TopicOutbound, out); err != nil {
			c.Logger().Errorf("enqueue outbound failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"queued": true,
			"id":     out.ID,
			"phone":  out.Phone,
		})
	}
}
