package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud api: status=%d code=%d type=%s: %s", e.StatusCode, e.Code, e.Type, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type ClientConfig struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// CloudAPIClient talks to {base}/{version}/{phone_number_id}/messages.
type CloudAPIClient struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewCloudAPIClient(c ClientConfig) *CloudAPIClient {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(c.BaseURL, "/"), strings.Trim(c.APIVersion, "/"), c.PhoneNumberID)

	return &CloudAPIClient{
		endpoint: endpoint,
		token:    c.AccessToken,
		client:   &http.Client{Timeout: c.Timeout},
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type readPayload struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message and returns the provider message id.
// to is E.164; the API expects digits only.
func (c *CloudAPIClient) SendText(ctx context.Context, to, body string) (string, error) {
	p := textPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
	}
	p.Text.Body = body

	var out sendResponse
	if err := c.post(ctx, p, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("cloud api: send response without message id")
	}
	return out.Messages[0].ID, nil
}

// MarkRead acknowledges an inbound message, which also shows blue ticks to the sender.
func (c *CloudAPIClient) MarkRead(ctx context.Context, providerMessageID string) error {
	return c.post(ctx, readPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        providerMessageID,
	}, nil)
}

func (c *CloudAPIClient) post(ctx context.Context, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}

	if res.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			apiErr.Code = er.Error.Code
			apiErr.Type = er.Error.Type
			apiErr.Message = er.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cloud api: decode response: %w", err)
	}
	return nil
}
