package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/postagent/internal/store"
	"github.com/elonfeng/postagent/pkg/pipeline"
	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/source"
	"github.com/elonfeng/postagent/pkg/topic"
)

var at = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func acceptedOutcome() pipeline.Outcome {
	return pipeline.Outcome{
		Status:    pipeline.StatusAccepted,
		Post:      &store.Post{Title: "Agents in production", Body: "Three lessons from shipping agents."},
		Selection: topic.Selection{Topic: "AI agents", Kind: topic.KindNiche},
		Quality:   quality.Result{Final: 86.5},
	}
}

type recorder struct {
	name string
	got  []*Notification
	err  error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(_ context.Context, n *Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestFromOutcome(t *testing.T) {
	n := FromOutcome(acceptedOutcome(), "run-1", "https://example.com/p/1", at)
	assert.Equal(t, "accepted", n.Status)
	assert.Equal(t, "Agents in production", n.Title)
	assert.Equal(t, "AI agents", n.Topic)
	assert.Equal(t, 86.5, n.Score)
	assert.False(t, n.Failed())
	assert.Empty(t, n.Error)

	failed := FromOutcome(pipeline.Outcome{
		Status:    pipeline.StatusFailed,
		Err:       fmt.Errorf("%w: 3 candidates", pipeline.ErrDuplicateExhausted),
		Selection: topic.Selection{Topic: "RAG"},
	}, "run-2", "", at)
	assert.True(t, failed.Failed())
	assert.Equal(t, "duplicate_exhausted", failed.Kind)
	assert.Equal(t, "RAG", failed.Title)
	assert.Contains(t, failed.Error, "3 candidates")
}

func TestManagerNotify(t *testing.T) {
	ok := &recorder{name: "ok"}
	m := NewManager([]Notifier{ok}, false)

	success := FromOutcome(acceptedOutcome(), "", "", at)
	require.NoError(t, m.Notify(context.Background(), success))
	assert.Empty(t, ok.got, "plain success is quiet unless onSuccess")

	warned := FromOutcome(acceptedOutcome(), "", "", at)
	warned.Warning = true
	require.NoError(t, m.Notify(context.Background(), warned))
	assert.Len(t, ok.got, 1)

	m = NewManager([]Notifier{ok}, true)
	require.NoError(t, m.Notify(context.Background(), success))
	assert.Len(t, ok.got, 2)

	assert.NoError(t, NewManager(nil, true).Notify(context.Background(), success))
}

func TestManagerBroadcastJoinsErrors(t *testing.T) {
	a := &recorder{name: "a", err: errors.New("down")}
	b := &recorder{name: "b"}
	err := NewManager([]Notifier{a, b}, true).Broadcast(context.Background(), &Notification{Status: "failed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")
	assert.Len(t, b.got, 1, "one failing notifier does not stop the others")
}

func TestWebhookSigns(t *testing.T) {
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	n := FromOutcome(acceptedOutcome(), "run-1", "", at)
	require.NoError(t, NewWebhook(nil, srv.URL, "s3cret").Send(context.Background(), n))
	assert.Equal(t, Sign("s3cret", body), sig)

	var decoded Notification
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, "accepted", decoded.Status)
}

func TestWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(nil, srv.URL, "").Send(context.Background(), &Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookRetriesWithInjectedClient(t *testing.T) {
	var hits atomic.Int32
	var sigs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigs = append(sigs, r.Header.Get(SignatureHeader))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := source.NewHTTPClient(source.WithRetryWait(time.Millisecond, 5*time.Millisecond))
	n := FromOutcome(acceptedOutcome(), "run-2", "", at)
	require.NoError(t, NewWebhook(client, srv.URL, "s3cret").Send(context.Background(), n))
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, sigs, 2)
	assert.Equal(t, sigs[0], sigs[1], "retries resend the signed body")
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := FromOutcome(pipeline.Outcome{
		Status:    pipeline.StatusFailed,
		Err:       fmt.Errorf("%w: timeout", pipeline.ErrTransient),
		Selection: topic.Selection{Topic: "Vector search"},
	}, "", "", at)

	require.NoError(t, NewSlack(nil, srv.URL).Send(context.Background(), n))
	require.NoError(t, NewDiscord(nil, srv.URL).Send(context.Background(), n))
	require.Len(t, payloads, 2)

	blocks := payloads[0]["blocks"].([]any)
	header := blocks[0].(map[string]any)["text"].(map[string]any)
	assert.Equal(t, "Post run failed: Vector search", header["text"])

	embed := payloads[1]["embeds"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(colorFailed), embed["color"])
	assert.Contains(t, embed["description"], "timeout")
}
