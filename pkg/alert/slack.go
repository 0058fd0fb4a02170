package alert

import (
	"context"
	"fmt"
	"net/http"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier. A nil client uses a plain one with
// a short timeout.
func NewSlack(client *http.Client, webhookURL string) *Slack {
	return &Slack{client: orDefault(client), webhookURL: webhookURL}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	detail := fmt.Sprintf("*Status:* %s | *Score:* %.1f | *Topic:* %s", n.Status, n.Score, n.Topic)
	if n.Error != "" {
		detail += "\n*Reason:* " + n.Error
	}
	if n.URL != "" {
		detail += fmt.Sprintf("\n<%s|View post>", n.URL)
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": excerpt(headline(n), 140)},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": detail},
		},
	}
	if n.Body != "" {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": excerpt(n.Body, 300)},
			},
		})
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
