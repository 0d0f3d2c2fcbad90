package service

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/maya/rewear/internal/apperr"
)

// WebhookSender delivers notification bursts by POSTing them to the push
// gateway. Failures come back as DispatchFailure so the dispatcher retries
// with backoff.
type WebhookSender struct {
	client *resty.Client
	url    string
}

// WebhookSenderConfig holds the push gateway endpoint.
type WebhookSenderConfig struct {
	URL    string
	APIKey string
}

// NewWebhookSender creates a webhook-backed Sender.
func NewWebhookSender(cfg *WebhookSenderConfig) *WebhookSender {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &WebhookSender{
		client: client,
		url:    cfg.URL,
	}
}

// Send posts one burst to the gateway.
func (s *WebhookSender) Send(ctx context.Context, n *Notification) error {
	if s.url == "" {
		return apperr.Dispatch(fmt.Errorf("no webhook URL configured"))
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return apperr.Dispatch(err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return apperr.Dispatch(fmt.Errorf("push gateway returned status %d", resp.StatusCode()))
	}
	return nil
}
