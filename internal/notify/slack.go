package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewSlackNotifier creates a notifier for webhookURL.
func NewSlackNotifier(webhookURL string, logger *zap.Logger) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack: %w", ErrBadWebhook)
	}
	return &SlackNotifier{webhookURL: webhookURL, client: http.DefaultClient, logger: logger}, nil
}

func (n *SlackNotifier) Platform() string { return "slack" }

// Notify posts msg as a single colored attachment.
func (n *SlackNotifier) Notify(ctx context.Context, msg *Message) error {
	color := "good"
	if !msg.Success {
		color = "danger"
	}
	att := slack.Attachment{
		Color: color,
		Title: msg.Title,
		Text:  "```" + msg.Content + "```",
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: true})
	}
	payload := &slack.WebhookMessage{
		Text:        msg.Title,
		Attachments: []slack.Attachment{att},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, payload); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	n.logger.Debug("slack notification sent", zap.String("title", msg.Title))
	return nil
}
