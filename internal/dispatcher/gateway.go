package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/config"
	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
)

var (
	ErrBreakerOpen   = errors.New("whatsapp: circuit breaker open")
	ErrNotConfigured = errors.New("whatsapp: send credentials not configured")
)

// Gateway is the send side of the channel.
type Gateway interface {
	SendText(ctx context.Context, to, body string) (string, error)
	MarkRead(ctx context.Context, providerMessageID string) error
}

// RetryingGateway wraps a Gateway with a breaker and bounded retries.
// Retries happen on 5xx, 429 and transport errors only.
type RetryingGateway struct {
	next     Gateway
	br       *Breaker
	attempts int
	backoff  time.Duration
}

func NewRetryingGateway(next Gateway, br *Breaker, attempts int, backoff time.Duration) *RetryingGateway {
	if attempts < 1 {
		attempts = 3
	}
	if backoff < 0 {
		backoff = 0
	}
	return &RetryingGateway{next: next, br: br, attempts: attempts, backoff: backoff}
}

func (g *RetryingGateway) SendText(ctx context.Context, to, body string) (string, error) {
	var id string
	err := g.do(ctx, "send", func(ctx context.Context) error {
		var err error
		id, err = g.next.SendText(ctx, to, body)
		return err
	})
	return id, err
}

func (g *RetryingGateway) MarkRead(ctx context.Context, providerMessageID string) error {
	return g.do(ctx, "mark_read", func(ctx context.Context) error {
		return g.next.MarkRead(ctx, providerMessageID)
	})
}

func (g *RetryingGateway) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var last error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if !g.br.Allow() {
			metrics.OutboundTotal.WithLabelValues(op, "breaker_open").Inc()
			if last != nil {
				return last
			}
			return ErrBreakerOpen
		}

		err := fn(ctx)
		if err == nil {
			g.br.Success()
			metrics.OutboundTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		last = err

		if !retryable(err) {
			// The provider answered; the request itself is at fault.
			g.br.Success()
			metrics.OutboundTotal.WithLabelValues(op, "error").Inc()
			return err
		}
		g.br.Failure()
		metrics.OutboundTotal.WithLabelValues(op, "error").Inc()

		if attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(g.backoff * time.Duration(attempt)):
		}
	}
	return last
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// DisabledGateway is used when no send credentials are configured.
type DisabledGateway struct{}

func (DisabledGateway) SendText(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}

func (DisabledGateway) MarkRead(context.Context, string) error { return ErrNotConfigured }

// FromConfig builds the retrying Cloud API gateway, or a DisabledGateway when
// send credentials are missing.
func FromConfig(c config.WhatsAppConfig) Gateway {
	if !c.Enabled() {
		return DisabledGateway{}
	}
	client := NewCloudAPIClient(ClientConfig{
		BaseURL:       c.BaseURL,
		APIVersion:    c.APIVersion,
		PhoneNumberID: c.PhoneNumberID,
		AccessToken:   c.AccessToken,
		Timeout:       time.Duration(c.TimeoutMs) * time.Millisecond,
	})
	br := NewBreaker(c.Breaker.FailThreshold, time.Duration(c.Breaker.OpenForMs)*time.Millisecond)

	return NewRetryingGateway(client, br, c.MaxAttempts, c.RetryBackoff)
}
