package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/jmehdipour/whatsapp-gateway/internal/util"
	echo "github.com/labstack/echo/v4"
)

func listMessagesHandler(chRepo repository.CHMessagesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reporting disabled"})
		}

		f := repository.ReportFilter{Limit: 50}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			if st := model.MessageStatus(raw); st.Valid() {
				f.Status = st
			}
		}
		if raw := strings.TrimSpace(c.QueryParam("direction")); raw != "" {
			if d := model.Direction(raw); d.Valid() {
				f.Direction = d
			}
		}
		f.Phone = util.NormalizePhone(strings.TrimSpace(c.QueryParam("phone")))

		msgs, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(msgs),
			"results": msgs,
		})
	}
}
