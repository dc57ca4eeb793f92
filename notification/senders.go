package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/httpclient"
)

// Delivery is the content handed to a channel sender.
type Delivery struct {
	// Location points at the stored pipeline result.
	Location string `json:"location"`

	// Message is the human-readable summary of the execution outcome.
	Message string `json:"message"`

	Timestamp time.Time `json:"timestamp"`
}

// WebhookSender posts deliveries to arbitrary HTTP endpoints.
type WebhookSender struct {
	client *httpclient.Client
}

// NewWebhookSender wires a WebhookSender.
func NewWebhookSender(client *httpclient.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

// Send posts the delivery as JSON to the parameter URL.
func (s *WebhookSender) Send(ctx context.Context, p WebhookParameter, d Delivery) error {
	resp, err := s.client.PostJSON(ctx, p.URL, d)
	if err != nil {
		return apperrors.ChannelDelivery("webhook", err)
	}
	if !resp.IsSuccess() {
		return apperrors.ChannelDelivery("webhook",
			fmt.Errorf("endpoint %s answered %d", p.URL, resp.StatusCode))
	}
	return nil
}

// SlackSender posts deliveries to Slack incoming webhooks.
type SlackSender struct {
	client  *httpclient.Client
	baseURL string
}

// NewSlackSender wires a SlackSender. baseURL is the incoming-webhook
// service prefix.
func NewSlackSender(client *httpclient.Client, baseURL string) *SlackSender {
	return &SlackSender{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Send posts the delivery message to the webhook URL assembled from the
// workspace, channel, and secret path segments.
func (s *SlackSender) Send(ctx context.Context, p SlackParameter, d Delivery) error {
	url := fmt.Sprintf("%s/%s/%s/%s", s.baseURL, p.WorkspaceID, p.ChannelID, p.Secret)
	resp, err := s.client.PostJSON(ctx, url, map[string]string{"text": d.Message})
	if err != nil {
		return apperrors.ChannelDelivery("slack", err)
	}
	if !resp.IsSuccess() {
		return apperrors.ChannelDelivery("slack",
			fmt.Errorf("slack answered %d", resp.StatusCode))
	}
	return nil
}
