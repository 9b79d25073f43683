package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	"github.com/labstack/echo/v4"
)

func getConversationHandler(convs repository.ConversationsRepository, ledger repository.LedgerRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		phone := util.NormalizePhone(c.Param("phone"))
		if phone == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid phone"})
		}

		ctx := c.Request().Context()
		conv, err := convs.GetByPhone(ctx, phone)
		if err != nil {
			c.Logger().Errorf("conversation lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if conv == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}

		limit := 20
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		msgs, err := ledger.ListByConversation(ctx, conv.ID, limit)
		if err != nil {
			c.Logger().Errorf("ledger list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"conversation": conv,
			"messages":     msgs,
		})
	}
}

type linkUserReq struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// linkUserHandler lets the identity service attach a conversation to a user.
func linkUserHandler(convs repository.ConversationsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		phone := util.NormalizePhone(c.Param("phone"))
		var req linkUserReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if phone == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid phone"})
		}
		if err := c.Validate(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		err := convs.LinkToUser(c.Request().Context(), phone, req.UserID)
		switch {
		case errors.Is(err, repository.ErrConversationNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		case err != nil:
			c.Logger().Errorf("link user failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"phone": phone, "user_id": req.UserID})
	}
}
