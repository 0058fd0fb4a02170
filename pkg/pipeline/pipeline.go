package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/elonfeng/postagent/internal/store"
	"github.com/elonfeng/postagent/pkg/generator"
	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/similarity"
	"github.com/elonfeng/postagent/pkg/topic"
)

// DedupPolicy decides what happens when every candidate duplicates history.
type DedupPolicy string

const (
	// DedupReject fails the run.
	DedupReject DedupPolicy = "reject"
	// DedupAccept continues with the last candidate and flags a warning.
	DedupAccept DedupPolicy = "accept"
)

// TopicSelector picks the next topic.
type TopicSelector interface {
	Select(ctx context.Context) (topic.Selection, error)
}

// DuplicateChecker compares a candidate with recent history.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, text string) (similarity.Match, error)
}

// Scorer rates candidates.
type Scorer interface {
	Score(in quality.Input) quality.Result
	Passes(score float64) bool
}

// PostStore persists accepted posts and topic history.
type PostStore interface {
	SaveIfAbsent(ctx context.Context, p *store.Post) (bool, error)
	MarkPostPublished(ctx context.Context, id int64, at time.Time) error
	RecordTopicUse(ctx context.Context, topic string, at time.Time) error
}

// Config bounds the state machine.
type Config struct {
	// MaxDedupAttempts is how many candidates may be rejected as duplicates
	// before DedupPolicy applies.
	MaxDedupAttempts int
	DedupPolicy      DedupPolicy
	// MaxQualityAttempts is how many candidates may score below the
	// threshold before the best one is accepted with a warning.
	MaxQualityAttempts int

	// Generator retry: attempts per candidate, exponential backoff with
	// jitter between BackoffBase and BackoffMax, and a per-call timeout.
	GeneratorAttempts int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	CallTimeout       time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxDedupAttempts <= 0 {
		c.MaxDedupAttempts = 3
	}
	if c.DedupPolicy == "" {
		c.DedupPolicy = DedupReject
	}
	if c.MaxQualityAttempts <= 0 {
		c.MaxQualityAttempts = 2
	}
	if c.GeneratorAttempts <= 0 {
		c.GeneratorAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = max(c.BackoffBase, 30*time.Second)
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 90 * time.Second
	}
}

// Orchestrator runs one selection, generation and acceptance cycle. It holds
// no state between runs and never sends notifications.
type Orchestrator struct {
	selector  TopicSelector
	generator generator.Generator
	dedup     DuplicateChecker
	scorer    Scorer
	store     PostStore
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(sel TopicSelector, gen generator.Generator, dedup DuplicateChecker, scorer Scorer, st PostStore, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		selector:  sel,
		generator: gen,
		dedup:     dedup,
		scorer:    scorer,
		store:     st,
		cfg:       cfg,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}
}

type candidate struct {
	draft    *generator.Draft
	body     string
	keywords []string
	hashtags []string
	result   quality.Result
	sim      float64
}

// run carries the per-invocation state.
type run struct {
	o   *Orchestrator
	out Outcome
}

func (r *run) enter(s State) {
	r.out.Trace = append(r.out.Trace, s)
	r.o.logger.Debug("state", "state", s, "topic", r.out.Selection.Topic, "candidates", r.out.Candidates)
}

func (r *run) fail(err error) Outcome {
	r.enter(StateFailed)
	r.out.Status = StatusFailed
	r.out.Err = err
	return r.out
}

func (r *run) cancel(err error) Outcome {
	r.enter(StateCancelled)
	r.out.Status = StatusCancelled
	r.out.Err = err
	return r.out
}

// Run executes the state machine. Cancellation is checked between
// transitions; a cancelled run never persists anything.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	r := &run{o: o}

	if err := ctx.Err(); err != nil {
		return r.cancel(err)
	}
	r.enter(StateSelecting)
	sel, err := o.selector.Select(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx.Err())
		}
		return r.fail(fmt.Errorf("%w: select topic: %v", ErrStorage, err))
	}
	r.out.Selection = sel

	req := generator.Request{
		Topic:    sel.Topic,
		Kind:     string(sel.Kind),
		Metadata: sel.Metadata,
	}

	var (
		best           *candidate
		dupRejects     int
		qualityRejects int
		dedupWarning   error
	)
	for {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.enter(StateGenerating)
		req.Attempt = r.out.Candidates + 1
		draft, err := o.generate(ctx, req, &r.out.GeneratorCalls)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx.Err())
			}
			return r.fail(fmt.Errorf("%w: generate: %w", ErrTransient, err))
		}
		r.out.Candidates++
		c := o.prepare(sel.Topic, draft)

		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.enter(StateDedupCheck)
		match, err := o.dedup.IsDuplicate(ctx, c.body)
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx.Err())
			}
			return r.fail(fmt.Errorf("%w: %w", ErrStorage, err))
		}
		c.sim = match.Score
		if match.Duplicate {
			dupRejects++
			if dupRejects < o.cfg.MaxDedupAttempts {
				req.VaryAngle = angleHint(c, match)
				req.Strengthen, req.RequiredKeywords, req.Feedback = false, nil, nil
				continue
			}
			if o.cfg.DedupPolicy != DedupAccept {
				r.out.Similarity = match.Score
				return r.fail(fmt.Errorf("%w: %d candidates were near-duplicates (last similarity %.2f)",
					ErrDuplicateExhausted, dupRejects, match.Score))
			}
			dedupWarning = fmt.Errorf("%w: accepted near-duplicate (similarity %.2f)", ErrDuplicateExhausted, match.Score)
		}

		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.enter(StateQualityCheck)
		c.result = o.scorer.Score(quality.Input{
			Text:     c.body,
			Keywords: c.keywords,
			Hashtags: c.hashtags,
			External: draft.Score,
		})
		if best == nil || c.result.Final > best.result.Final {
			best = c
		}

		if dedupWarning != nil {
			return r.accept(ctx, best, dedupWarning)
		}
		if o.scorer.Passes(c.result.Final) {
			return r.accept(ctx, c, nil)
		}
		qualityRejects++
		if qualityRejects >= o.cfg.MaxQualityAttempts {
			return r.accept(ctx, best, fmt.Errorf("%w: best score %.1f after %d candidates",
				ErrQualityExhausted, best.result.Final, qualityRejects))
		}
		req.VaryAngle = ""
		req.Strengthen = true
		req.RequiredKeywords = requiredKeywords(sel.Topic, c.keywords)
		req.Feedback = c.result.Issues
	}
}

// accept persists c. A non-nil warning marks the post as accepted despite
// exhausting a bound.
func (r *run) accept(ctx context.Context, c *candidate, warning error) Outcome {
	if err := ctx.Err(); err != nil {
		return r.cancel(err)
	}
	sel := r.out.Selection
	post := &store.Post{
		Title:          c.draft.Title,
		Body:           c.body,
		Score:          c.result.Rounded(),
		Keywords:       c.keywords,
		Hashtags:       c.hashtags,
		Topic:          sel.Topic,
		Source:         string(sel.Kind),
		QualityWarning: warning != nil,
		CreatedAt:      r.o.now(),
	}
	if post.Title == "" {
		post.Title = sel.Topic
	}
	r.out.Quality = c.result
	r.out.Similarity = c.sim

	saved, err := r.o.store.SaveIfAbsent(ctx, post)
	if err != nil {
		return r.fail(fmt.Errorf("%w: save post: %w", ErrStorage, err))
	}
	if !saved {
		return r.fail(fmt.Errorf("%w: content already published", ErrDuplicateExhausted))
	}

	r.enter(StateAccepted)
	r.out.Status = StatusAccepted
	r.out.Post = post
	r.out.Warning = warning != nil
	r.out.Err = warning
	return r.out
}

// MarkPublished marks the post delivered and commits its topic to history so
// it enters cooldown. Call it only after the publisher reported success.
func (o *Orchestrator) MarkPublished(ctx context.Context, p *store.Post) error {
	if p == nil {
		return nil
	}
	at := o.now()
	if p.ID != 0 {
		if err := o.store.MarkPostPublished(ctx, p.ID, at); err != nil {
			return fmt.Errorf("%w: mark published: %w", ErrStorage, err)
		}
		p.Status, p.PublishedAt = store.PostPublished, &at
	}
	if p.Topic == "" {
		return nil
	}
	if err := o.store.RecordTopicUse(ctx, p.Topic, at); err != nil {
		return fmt.Errorf("%w: record topic use: %w", ErrStorage, err)
	}
	return nil
}

// generate calls the generator with bounded, jittered exponential backoff.
// Only transient failures are retried and the caller's cancellation stops
// retrying immediately.
func (o *Orchestrator) generate(ctx context.Context, req generator.Request, calls *int) (*generator.Draft, error) {
	policy := retrypolicy.NewBuilder[*generator.Draft]().
		HandleIf(func(_ *generator.Draft, err error) bool {
			return err != nil && ctx.Err() == nil && generator.Retryable(err)
		}).
		WithMaxRetries(o.cfg.GeneratorAttempts-1).
		WithBackoff(o.cfg.BackoffBase, o.cfg.BackoffMax).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*generator.Draft]) {
			o.logger.Debug("retrying generator", "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()

	return failsafe.With(policy).WithContext(ctx).Get(func() (*generator.Draft, error) {
		*calls++
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		d, err := o.generator.Generate(cctx, req)
		if err == nil && (d == nil || strings.TrimSpace(d.Body) == "") {
			err = errors.New("empty draft")
		}
		return d, err
	})
}

// prepare cleans the draft and fills in keywords and hashtags it lacks.
func (o *Orchestrator) prepare(topicName string, d *generator.Draft) *candidate {
	body := quality.Clean(d.Body)
	c := &candidate{draft: d, body: body, keywords: d.Keywords, hashtags: d.Hashtags}
	if len(c.keywords) == 0 {
		c.keywords = quality.ExtractKeywords([]string{topicName, body}, 5)
	}
	if len(c.hashtags) == 0 {
		c.hashtags = quality.HashtagsIn(body)
	}
	return c
}

// angleHint summarises what the next candidate should move away from.
func angleHint(c *candidate, m similarity.Match) string {
	opening := firstSentence(c.body)
	if m.Post == nil {
		return fmt.Sprintf("an opening like %q", opening)
	}
	return fmt.Sprintf("an opening like %q; it overlapped %.0f%% with the earlier post %q",
		opening, m.Score*100, m.Post.Title)
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".?!\n"); i > 0 {
		text = text[:i]
	}
	r := []rune(text)
	if len(r) > 100 {
		text = string(r[:100])
	}
	return text
}

func requiredKeywords(topicName string, keywords []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range append(similarity.Tokenize(topicName), keywords...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == 5 {
			break
		}
	}
	return out
}
