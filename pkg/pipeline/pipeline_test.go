package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/postagent/internal/store"
	"github.com/elonfeng/postagent/pkg/generator"
	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/similarity"
	"github.com/elonfeng/postagent/pkg/topic"
)

type fakeSelector struct {
	sel topic.Selection
	err error
}

func (f fakeSelector) Select(context.Context) (topic.Selection, error) { return f.sel, f.err }

// fakeGenerator replays errs then returns numbered drafts.
type fakeGenerator struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	requests []generator.Request
	onCall   func(n int)
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.onCall != nil {
		f.onCall(f.calls)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &generator.Draft{
		Title:    fmt.Sprintf("Draft %d", f.calls),
		Body:     fmt.Sprintf("Draft %d about %s.\n\nWhat do you think?\n\n#AI #Go #Agents", f.calls, req.Topic),
		Keywords: []string{"agents"},
	}, nil
}

// fakeDedup answers from a script, repeating the last entry.
type fakeDedup struct {
	dup   []bool
	err   error
	calls int
}

func (f *fakeDedup) IsDuplicate(context.Context, string) (similarity.Match, error) {
	f.calls++
	if f.err != nil {
		return similarity.Match{}, f.err
	}
	i := min(f.calls-1, len(f.dup)-1)
	if i < 0 || !f.dup[i] {
		return similarity.Match{Score: 0.2}, nil
	}
	return similarity.Match{Duplicate: true, Score: 0.91, Post: &store.Post{Title: "Old post"}}, nil
}

// fakeScorer returns scores in order, repeating the last one.
type fakeScorer struct {
	scores []float64
	calls  int
}

func (f *fakeScorer) Score(quality.Input) quality.Result {
	f.calls++
	s := f.scores[min(f.calls-1, len(f.scores)-1)]
	return quality.Result{Final: s, Issues: []string{"needs a question"}}
}

func (f *fakeScorer) Passes(score float64) bool { return score >= 70 }

type fakeStore struct {
	saved   []*store.Post
	absent  bool
	err     error
	used    []string
	saveCtx context.Context

	published []int64
}

func (f *fakeStore) SaveIfAbsent(ctx context.Context, p *store.Post) (bool, error) {
	f.saveCtx = ctx
	if f.err != nil {
		return false, f.err
	}
	if !f.absent {
		return false, nil
	}
	f.saved = append(f.saved, p)
	return true, nil
}

func (f *fakeStore) MarkPostPublished(_ context.Context, id int64, _ time.Time) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeStore) RecordTopicUse(_ context.Context, t string, _ time.Time) error {
	f.used = append(f.used, t)
	return nil
}

type harness struct {
	sel    fakeSelector
	gen    *fakeGenerator
	dedup  *fakeDedup
	scorer *fakeScorer
	store  *fakeStore
	cfg    Config
}

func newHarness() *harness {
	return &harness{
		sel:    fakeSelector{sel: topic.Selection{Topic: "AI agents", Kind: topic.KindNiche, Priority: 4}},
		gen:    &fakeGenerator{},
		dedup:  &fakeDedup{},
		scorer: &fakeScorer{scores: []float64{82}},
		store:  &fakeStore{absent: true},
		cfg: Config{
			MaxDedupAttempts:   3,
			MaxQualityAttempts: 2,
			GeneratorAttempts:  3,
			BackoffBase:        time.Millisecond,
			BackoffMax:         2 * time.Millisecond,
			CallTimeout:        time.Second,
		},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	o := New(h.sel, h.gen, h.dedup, h.scorer, h.store, h.cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return o
}

func TestRunAccepts(t *testing.T) {
	h := newHarness()
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status, out.Err)
	assert.NoError(t, out.Err)
	assert.False(t, out.Warning)
	assert.Equal(t, "", out.Kind())
	require.NotNil(t, out.Post)
	assert.Equal(t, "Draft 1", out.Post.Title)
	assert.Equal(t, 82, out.Post.Score)
	assert.Equal(t, "AI agents", out.Post.Topic)
	assert.Equal(t, "niche", out.Post.Source)
	assert.Equal(t, []string{"#AI", "#Go", "#Agents"}, out.Post.Hashtags)
	assert.Equal(t, 1, out.Candidates)
	assert.Equal(t, []State{StateSelecting, StateGenerating, StateDedupCheck, StateQualityCheck, StateAccepted}, out.Trace)
	assert.Len(t, h.store.saved, 1)
	assert.Empty(t, h.store.used, "topic history is written only after publishing")
}

func TestRunDuplicateRetriesWithNewAngle(t *testing.T) {
	h := newHarness()
	h.dedup.dup = []bool{true, false}
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, 2, out.Candidates)
	require.Len(t, h.gen.requests, 2)
	assert.Empty(t, h.gen.requests[0].VaryAngle)
	assert.Contains(t, h.gen.requests[1].VaryAngle, "Old post")
	assert.Equal(t, 2, h.gen.requests[1].Attempt)
}

func TestRunDuplicateExhaustedRejects(t *testing.T) {
	h := newHarness()
	h.dedup.dup = []bool{true}
	out := h.orchestrator().Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrDuplicateExhausted)
	assert.Equal(t, "duplicate_exhausted", out.Kind())
	assert.Equal(t, 3, out.Candidates)
	assert.Equal(t, 3, h.dedup.calls)
	assert.Empty(t, h.store.saved)
	assert.InDelta(t, 0.91, out.Similarity, 1e-9)
}

func TestRunDuplicateExhaustedAcceptPolicy(t *testing.T) {
	h := newHarness()
	h.dedup.dup = []bool{true}
	h.cfg.DedupPolicy = DedupAccept
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status)
	assert.True(t, out.Warning)
	assert.ErrorIs(t, out.Err, ErrDuplicateExhausted)
	require.NotNil(t, out.Post)
	assert.True(t, out.Post.QualityWarning)
	assert.Equal(t, 3, out.Candidates)
}

func TestRunQualityExhaustedKeepsBest(t *testing.T) {
	h := newHarness()
	h.scorer.scores = []float64{55, 61}
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status)
	assert.True(t, out.Warning)
	assert.ErrorIs(t, out.Err, ErrQualityExhausted)
	assert.Equal(t, "quality_exhausted", out.Kind())
	require.NotNil(t, out.Post)
	assert.Equal(t, "Draft 2", out.Post.Title)
	assert.Equal(t, 61, out.Post.Score)
	assert.True(t, out.Post.QualityWarning)

	require.Len(t, h.gen.requests, 2)
	second := h.gen.requests[1]
	assert.True(t, second.Strengthen)
	assert.Equal(t, []string{"needs a question"}, second.Feedback)
	assert.Contains(t, second.RequiredKeywords, "agents")
}

func TestRunQualityRecovers(t *testing.T) {
	h := newHarness()
	h.scorer.scores = []float64{40, 75}
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status)
	assert.False(t, out.Warning)
	assert.Equal(t, 75, out.Post.Score)
}

func TestRunTransientRetriesAreBounded(t *testing.T) {
	h := newHarness()
	unavailable := &generator.StatusError{Provider: "fake", StatusCode: 503}
	h.gen.errs = []error{unavailable, unavailable, unavailable, unavailable}
	out := h.orchestrator().Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrTransient)
	assert.Equal(t, "transient", out.Kind())
	assert.Equal(t, 3, h.gen.calls)
	assert.Equal(t, 3, out.GeneratorCalls)
	assert.Zero(t, out.Candidates)
}

func TestRunTransientRecovers(t *testing.T) {
	h := newHarness()
	h.gen.errs = []error{&generator.StatusError{Provider: "fake", StatusCode: 429}, nil}
	out := h.orchestrator().Run(context.Background())

	require.Equal(t, StatusAccepted, out.Status)
	assert.Equal(t, 2, out.GeneratorCalls)
	assert.Equal(t, 1, out.Candidates)
}

func TestRunPermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness()
	h.gen.errs = []error{&generator.StatusError{Provider: "fake", StatusCode: 401}}
	out := h.orchestrator().Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, generator.ErrPermanent)
	assert.Equal(t, 1, h.gen.calls)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.orchestrator().Run(ctx)

	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, "cancelled", out.Kind())
	assert.Zero(t, h.gen.calls)
	assert.Empty(t, h.store.saved)
}

func TestRunCancelledDuringGeneration(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.gen.onCall = func(int) { cancel() }
	out := h.orchestrator().Run(ctx)

	assert.Equal(t, StatusCancelled, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, h.store.saved)
	assert.Equal(t, StateCancelled, out.Trace[len(out.Trace)-1])
}

func TestRunContentAlreadyPublished(t *testing.T) {
	h := newHarness()
	h.store.absent = false
	out := h.orchestrator().Run(context.Background())

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrDuplicateExhausted)
	assert.Contains(t, out.Err.Error(), "content already published")
}

func TestRunStorageFailures(t *testing.T) {
	h := newHarness()
	h.store.err = errors.New("disk full")
	out := h.orchestrator().Run(context.Background())
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrStorage)
	assert.Equal(t, "storage", out.Kind())

	h = newHarness()
	h.dedup.err = errors.New("db locked")
	out = h.orchestrator().Run(context.Background())
	assert.ErrorIs(t, out.Err, ErrStorage)

	h = newHarness()
	h.sel.err = errors.New("corrupt cursor")
	out = h.orchestrator().Run(context.Background())
	assert.ErrorIs(t, out.Err, ErrStorage)
	assert.Zero(t, h.gen.calls)
}

func TestMarkPublished(t *testing.T) {
	h := newHarness()
	o := h.orchestrator()
	out := o.Run(context.Background())
	require.Equal(t, StatusAccepted, out.Status)

	out.Post.ID = 7
	require.NoError(t, o.MarkPublished(context.Background(), out.Post))
	assert.Equal(t, []string{"AI agents"}, h.store.used)
	assert.Equal(t, []int64{7}, h.store.published)
	assert.Equal(t, store.PostPublished, out.Post.Status)
	require.NotNil(t, out.Post.PublishedAt)
	require.NoError(t, o.MarkPublished(context.Background(), nil))
	assert.Len(t, h.store.used, 1)
}

func TestResume(t *testing.T) {
	p := &store.Post{ID: 3, Topic: "acme/agent-kit", Source: "queue", Status: store.PostPending}
	out := Resume(p)
	assert.Equal(t, StatusAccepted, out.Status)
	assert.True(t, out.Resumed)
	assert.Same(t, p, out.Post)
	assert.Equal(t, topic.KindQueue, out.Selection.Kind)
	assert.Equal(t, 10, out.Selection.Priority)
	assert.Empty(t, out.Kind())
}

func TestRequiredKeywords(t *testing.T) {
	got := requiredKeywords("Vector databases", []string{"Vector", "search", "rag", "embeddings", "latency"})
	assert.Len(t, got, 5)
	assert.Equal(t, "vector", got[0])
	assert.Equal(t, "databases", got[1])
}
