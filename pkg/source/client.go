package source

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const userAgent = "postagent/1.0"

// leveledSlog adapts slog to retryablehttp, logging intermediate failures at
// WARN since they are retried.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledSlog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// ClientOption tweaks the retrying client.
type ClientOption func(*retryablehttp.Client)

// WithMaxRetries sets the retry bound.
func WithMaxRetries(n int) ClientOption {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

// WithRetryWait sets the backoff bounds.
func WithRetryWait(min, max time.Duration) ClientOption {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

// WithLogger routes retry logging to logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *retryablehttp.Client) {
		c.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger})
	}
}

// NewHTTPClient returns a standard client that retries connection errors and
// 5xx replies with jittered exponential backoff. 429 is returned to the
// caller instead of being retried.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	rc.RetryMax = 3
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Backoff = jitterBackoff
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("component", "http")})
	rc.CheckRetry = retryPolicy

	for _, opt := range opts {
		opt(rc)
	}

	client := rc.StandardClient()
	client.Timeout = 30 * time.Second
	return client
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// jitterBackoff is retryablehttp's exponential backoff (which honours
// Retry-After) plus up to 10% random jitter, still capped at max.
func jitterBackoff(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
	d := retryablehttp.DefaultBackoff(min, max, attempt, resp)
	if d <= 0 {
		return d
	}
	d += time.Duration(rand.Int64N(int64(d)/10 + 1))
	if d > max {
		d = max
	}
	return d
}

func newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}
