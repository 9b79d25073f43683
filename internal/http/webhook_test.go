package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"github.com/jmehdipour/whatsapp-gateway/internal/service/ingest"
	"github.com/jmehdipour/whatsapp-gateway/internal/webhook"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const textDelivery = `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{
"messaging_product":"whatsapp","metadata":{"phone_number_id":"PNID"},
"contacts":[{"profile":{"name":"Ama"},"wa_id":"237670000000"}],
"messages":[{"from":"237670000000","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"hi"}}]}}]}]}`

type fakeIngestor struct {
	mu      sync.Mutex
	calls   int
	changes []model.Change
}

func (f *fakeIngestor) Process(_ context.Context, changes []model.Change) ingest.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.changes = append(f.changes, changes...)
	return ingest.Summary{Saved: len(changes)}
}

func newWebhookEcho(cfg WebhookConfig, ing Ingestor, log *zap.Logger) *echo.Echo {
	h := NewWebhookHandler(cfg, ing, log)
	e := echo.New()
	e.GET("/webhook", h.Verify)
	e.POST("/webhook", h.Receive)
	return e
}

func post(e *echo.Echo, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(webhook.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func sign(secret, body string) string {
	return "sha256=" + webhook.Sign([]byte(secret), []byte(body))
}

func TestVerify_Handshake(t *testing.T) {
	e := newWebhookEcho(WebhookConfig{VerifyToken: "tok"}, &fakeIngestor{}, zap.NewNop())

	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=tok&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing", "", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
		})
	}
}

func TestReceive_SignedDeliveryIsProcessed(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{AppSecret: "s3cret", Production: true}, ing, zap.NewNop())

	rec := post(e, textDelivery, sign("s3cret", textDelivery))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, eventReceived, rec.Body.String())
	require.Equal(t, 1, ing.calls)
	require.Len(t, ing.changes, 1)
	require.Len(t, ing.changes[0].Messages, 1)
	assert.Equal(t, "wamid.1", ing.changes[0].Messages[0].ID)
}

func TestReceive_BadSignatureIsUnauthorized(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{AppSecret: "s3cret"}, ing, zap.NewNop())

	for _, sig := range []string{"", "sha256=deadbeef", sign("other", textDelivery)} {
		rec := post(e, textDelivery, sig)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "signature %q", sig)
	}
	assert.Zero(t, ing.calls)
}

func TestReceive_MalformedBody(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{AppSecret: "s3cret"}, ing, zap.NewNop())

	body := `{"object":`
	rec := post(e, body, sign("s3cret", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ing.calls)
}

func TestReceive_OversizeBody(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{AppSecret: "s3cret", BodyLimit: 16}, ing, zap.NewNop())

	rec := post(e, textDelivery, sign("s3cret", textDelivery))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ing.calls)
}

func TestReceive_ForeignObjectIsAcknowledged(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{AppSecret: "s3cret"}, ing, zap.NewNop())

	body := `{"object":"page","entry":[]}`
	rec := post(e, body, sign("s3cret", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, eventReceived, rec.Body.String())
	assert.Zero(t, ing.calls)
}

func TestReceive_NoSecretOutsideProductionBypassesWithWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{}, ing, zap.New(core))

	rec := post(e, textDelivery, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ing.calls)
	assert.Equal(t, 1, logs.FilterMessage("signature verification bypassed, no app secret configured").Len())
}

func TestReceive_NoSecretInProductionIsRejected(t *testing.T) {
	ing := &fakeIngestor{}
	e := newWebhookEcho(WebhookConfig{Production: true}, ing, zap.NewNop())

	rec := post(e, textDelivery, sign("", textDelivery))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ing.calls)
}
