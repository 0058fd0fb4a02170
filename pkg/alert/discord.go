package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	colorOK      = 0x2EB67D
	colorWarning = 0xECB22E
	colorFailed  = 0xE01E5A
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(client *http.Client, webhookURL string) *Discord {
	return &Discord{client: orDefault(client), webhookURL: webhookURL}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	lines := []string{fmt.Sprintf("**Status:** %s | **Score:** %.1f | **Topic:** %s", n.Status, n.Score, n.Topic)}
	if n.Error != "" {
		lines = append(lines, "**Reason:** "+n.Error)
	}
	if n.Body != "" {
		lines = append(lines, "", excerpt(n.Body, 1500))
	}

	color := colorOK
	switch {
	case n.Failed():
		color = colorFailed
	case n.Warning:
		color = colorWarning
	}

	at := n.Time
	if at.IsZero() {
		at = time.Now()
	}
	embed := map[string]any{
		"title":       excerpt(headline(n), 250),
		"description": strings.Join(lines, "\n"),
		"color":       color,
		"timestamp":   at.UTC().Format(time.RFC3339),
	}
	if n.URL != "" {
		embed["url"] = n.URL
	}

	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []map[string]any{embed}}, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
