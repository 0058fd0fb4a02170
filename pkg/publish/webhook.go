package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/postagent/internal/store"
)

// Headers sent with every webhook publish.
const (
	HeaderSignature      = "X-Postagent-Signature"
	HeaderTimestamp      = "X-Postagent-Timestamp"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Payload is the body posted to the endpoint.
type Payload struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Hashtags    []string  `json:"hashtags"`
	Keywords    []string  `json:"keywords"`
	Topic       string    `json:"topic"`
	Source      string    `json:"source"`
	Score       int       `json:"score"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Webhook posts accepted posts to an HTTP endpoint that does the actual
// social network call. The content hash is sent as the idempotency key so a
// retried request cannot publish twice.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a webhook publisher. client may be nil.
func NewWebhook(client *http.Client, url, secret string) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{client: client, url: url, secret: secret, now: time.Now}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, p *store.Post) (Result, error) {
	body, err := json.Marshal(Payload{
		Title:       p.Title,
		Body:        p.Body,
		Hashtags:    p.Hashtags,
		Keywords:    p.Keywords,
		Topic:       p.Topic,
		Source:      p.Source,
		Score:       p.Score,
		ContentHash: p.ContentHash,
		CreatedAt:   p.CreatedAt.UTC(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal publish payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "postagent/1.0")
	req.Header.Set(HeaderIdempotencyKey, p.ContentHash)
	if w.secret != "" {
		ts := strconv.FormatInt(w.now().Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, Sign(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send publish request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read publish response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("publish status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var res Result
	if len(bytes.TrimSpace(data)) > 0 {
		// Endpoints may answer with an empty body or plain text.
		_ = json.Unmarshal(data, &res)
	}
	return res, nil
}

// Sign returns "sha256=<hex>" of HMAC(secret, timestamp + "." + body).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
