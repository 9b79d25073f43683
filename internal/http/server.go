package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/http/middleware"
	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
	"github.com/jmehdipour/whatsapp-gateway/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// Deps are the collaborators the HTTP surface needs. Reports may be nil when
// ClickHouse is not configured.
type Deps struct {
	Ingest        Ingestor
	Conversations repository.ConversationsRepository
	Ledger        repository.LedgerRepository
	Outbox        repository.OutboxRepository
	Reports       repository.CHMessagesRepository
	Redis         *redis.Client
	Log           *zap.Logger
}

type requestValidator struct{ v *validator.Validate }

func (r requestValidator) Validate(i any) error { return r.v.Struct(i) }

func NewServer(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = requestValidator{v: validator.New()}
	e.Logger.SetLevel(echoLogLevel(cfg.App.LogLevel))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider webhook
	wh := NewWebhookHandler(WebhookConfig{
		VerifyToken: cfg.Webhook.VerifyToken,
		AppSecret:   cfg.Webhook.AppSecret,
		Production:  cfg.App.Production(),
		BodyLimit:   cfg.HTTP.BodyLimitBytes,
	}, d.Ingest, d.Log)
	e.GET(cfg.Webhook.Path, wh.Verify)
	e.POST(cfg.Webhook.Path, wh.Receive)

	// admin middlewares
	authMW := middleware.APIKeyMiddleware(cfg.HTTP.AdminAPIKey)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// admin routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages/send", sendMessageHandler(d.Conversations, d.Outbox))
	v1.GET("/conversations/:phone", getConversationHandler(d.Conversations, d.Ledger))
	v1.PUT("/conversations/:phone/user", linkUserHandler(d.Conversations))
	v1.GET("/reports/messages", listMessagesHandler(d.Reports))

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr), zap.Int("routes", len(s.e.Routes())))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLogLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
