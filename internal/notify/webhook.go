package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookNotifier posts rendered emails to a mail relay endpoint.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

type webhookPayload struct {
	Rendered
	Kind     Kind   `json:"kind"`
	TokenID  string `json:"token_id"`
	RecordID string `json:"record_id"`
}

// NewWebhookNotifier builds a notifier with bounded retries on transport
// errors and 5xx responses.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &WebhookNotifier{client: client, url: url, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	rendered, err := Render(msg)
	if err != nil {
		return err
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Rendered: rendered,
			Kind:     msg.Kind,
			TokenID:  msg.TokenID.String(),
			RecordID: msg.RecordID.String(),
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		n.logger.WarnContext(ctx, "notification rejected",
			"status", resp.StatusCode(),
			"token_id", msg.TokenID.String(),
		)
		return fmt.Errorf("post notification: status %d", resp.StatusCode())
	}
	return nil
}
