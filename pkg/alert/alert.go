package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elonfeng/postagent/pkg/pipeline"
)

// Notification describes one finished run.
type Notification struct {
	Status  string    `json:"status"`
	Kind    string    `json:"kind,omitempty"`
	Topic   string    `json:"topic,omitempty"`
	Title   string    `json:"title"`
	Body    string    `json:"body,omitempty"`
	URL     string    `json:"url,omitempty"`
	Score   float64   `json:"score"`
	Warning bool      `json:"warning"`
	Error   string    `json:"error,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"time"`
}

// Failed reports whether the run did not produce a post.
func (n *Notification) Failed() bool {
	return n.Status != string(pipeline.StatusAccepted)
}

// FromOutcome builds a notification from a pipeline outcome. url is where the
// post was published, if anywhere.
func FromOutcome(out pipeline.Outcome, runID, url string, at time.Time) *Notification {
	n := &Notification{
		Status:  string(out.Status),
		Kind:    out.Kind(),
		Topic:   out.Selection.Topic,
		Title:   out.Selection.Topic,
		URL:     url,
		Score:   out.Quality.Final,
		Warning: out.Warning,
		RunID:   runID,
		Time:    at.UTC(),
	}
	if out.Post != nil {
		n.Title = out.Post.Title
		n.Body = out.Post.Body
	}
	if out.Err != nil {
		n.Error = out.Err.Error()
	}
	return n
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	onSuccess bool
}

// NewManager creates an alert manager. Successful runs without a warning are
// only sent when onSuccess is set.
func NewManager(notifiers []Notifier, onSuccess bool) *Manager {
	return &Manager{notifiers: notifiers, onSuccess: onSuccess}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// ShouldSend reports whether n is worth broadcasting.
func (m *Manager) ShouldSend(n *Notification) bool {
	return n.Failed() || n.Warning || m.onSuccess
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Notify broadcasts n if ShouldSend allows it.
func (m *Manager) Notify(ctx context.Context, n *Notification) error {
	if !m.HasNotifiers() || !m.ShouldSend(n) {
		return nil
	}
	return m.Broadcast(ctx, n)
}

func orDefault(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends payload and treats any non-2xx status as an error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, header http.Header) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return post(ctx, client, url, body, header)
}

func post(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "postagent/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func headline(n *Notification) string {
	switch {
	case n.Failed():
		return fmt.Sprintf("Post run %s: %s", n.Status, n.Topic)
	case n.Warning:
		return "Posted with warning: " + n.Title
	default:
		return "Posted: " + n.Title
	}
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
