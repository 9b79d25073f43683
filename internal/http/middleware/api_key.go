package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	APIKeyHeader = "X-API-Key"
	ctxPrincipal = "principal"
)

// PrincipalFromCtx returns the caller identity set by APIKeyMiddleware.
func PrincipalFromCtx(c echo.Context) (string, bool) {
	p, ok := c.Get(ctxPrincipal).(string)
	return p, ok && p != ""
}

// APIKeyMiddleware guards the admin API with a single static key. An empty
// key disables the admin API.
func APIKeyMiddleware(adminKey string) echo.MiddlewareFunc {
	want := []byte(strings.TrimSpace(adminKey))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(want) == 0 {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "admin api disabled"})
			}
			key := strings.TrimSpace(c.Request().Header.Get(APIKeyHeader))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxPrincipal, "admin:"+c.RealIP())
			return next(c)
		}
	}
}
