package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/postagent/internal/config"
	"github.com/elonfeng/postagent/internal/metrics"
	"github.com/elonfeng/postagent/internal/scheduler"
	"github.com/elonfeng/postagent/internal/store"
	"github.com/elonfeng/postagent/pkg/alert"
	"github.com/elonfeng/postagent/pkg/generator"
	"github.com/elonfeng/postagent/pkg/pipeline"
	"github.com/elonfeng/postagent/pkg/publish"
	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/server"
	"github.com/elonfeng/postagent/pkg/similarity"
	"github.com/elonfeng/postagent/pkg/source"
	"github.com/elonfeng/postagent/pkg/topic"
)

const publishLock = "publish"

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds what every command needs: config, store, gate and metrics.
type app struct {
	cfg     *config.Config
	db      *store.SQLiteStore
	gate    *scheduler.Gate
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	logger  *slog.Logger
	stdout  io.Writer
}

func openApp() (*app, error) {
	logger := newLogger(os.Stderr, logLevel, logFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfg, logger, os.Stdout)
}

func newApp(cfg *config.Config, logger *slog.Logger, stdout io.Writer) (*app, error) {
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	gate, err := scheduler.NewGate(db, cfg.Posting)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:     cfg,
		db:      db,
		gate:    gate,
		reg:     reg,
		metrics: metrics.New(reg),
		logger:  logger,
		stdout:  stdout,
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

func buildGenerator(cfg *config.Config, logger *slog.Logger) generator.Generator {
	g := cfg.Generator
	if g.Provider == "" || g.Provider == "template" || g.APIKey == "" {
		if g.Provider != "" && g.Provider != "template" {
			logger.Warn("no API key for generator, using templates", "provider", g.Provider)
		}
		return generator.NewTemplate(cfg.Quality.BroadHashtags, cfg.Quality.NicheHashtags)
	}
	llm := generator.NewLLM(g.Provider, g.Model, g.APIKey, g.BaseURL)
	logger.Info("generator", "name", llm.Name())
	return llm
}

func buildSources(cfg *config.Config, client *http.Client, filter *source.Filter, logger *slog.Logger) []source.Source {
	var sources []source.Source

	if cfg.Sources.HackerNews.Enabled {
		sources = append(sources, source.NewHackerNews(client, cfg.Sources.HackerNews.Limit, filter))
	}
	if cfg.Sources.GitHub.Enabled {
		sources = append(sources, source.NewGitHub(client, cfg.Sources.GitHub.Token))
	}
	if cfg.Sources.ArXiv.Enabled {
		sources = append(sources, source.NewArXiv(client, cfg.Sources.ArXiv.Categories, cfg.Sources.ArXiv.MaxResults))
	}
	if cfg.Sources.RSS.Enabled {
		feeds := make([]source.RSSFeed, len(cfg.Sources.RSS.Feeds))
		for i, f := range cfg.Sources.RSS.Feeds {
			feeds[i] = source.RSSFeed{Name: f.Name, URL: f.URL}
		}
		sources = append(sources, source.NewRSS(client, feeds, filter, logger))
	}

	return sources
}

func buildSelector(cfg *config.Config, db store.Store, client *http.Client, logger *slog.Logger) *topic.Selector {
	filter := source.NewFilter(cfg.Sources.Filter.ExtraKeywords, cfg.Sources.Filter.ExcludeKeywords)
	opts := topic.Options{
		Niches:              cfg.Niches,
		Fallback:            cfg.Topics.Fallback,
		Cooldown:            cfg.Cooldown.Duration(),
		TrendingProbability: cfg.Topics.TrendingProbability,
	}
	if sources := buildSources(cfg, client, filter, logger); len(sources) > 0 {
		opts.Trending = source.NewTrending(sources, 20, logger)
	}
	// Queued repositories are always enriched; GitHub search being disabled
	// only removes it from the trending feeds.
	opts.Metadata = source.NewGitHub(client, cfg.Sources.GitHub.Token)
	return topic.NewSelector(db, opts)
}

func buildOrchestrator(cfg *config.Config, db store.Store, gen generator.Generator, sel pipeline.TopicSelector, logger *slog.Logger) *pipeline.Orchestrator {
	dedup := similarity.NewEngine(db, cfg.Dedup.HistoryWindowSize, cfg.Dedup.SimilarityThreshold)
	scorer := quality.NewScorer(cfg.Quality.MinScore, cfg.Quality.BroadHashtags, cfg.Quality.NicheHashtags)
	return pipeline.New(sel, gen, dedup, scorer, db, pipeline.Config{
		MaxDedupAttempts:   cfg.Dedup.MaxAttempts,
		DedupPolicy:        pipeline.DedupPolicy(cfg.Dedup.OnExhausted),
		MaxQualityAttempts: cfg.Quality.MaxAttempts,
		GeneratorAttempts:  cfg.Generator.MaxAttempts,
		BackoffBase:        cfg.Generator.ParseBackoffBase(),
		BackoffMax:         cfg.Generator.ParseBackoffMax(),
		CallTimeout:        cfg.Generator.ParseTimeout(),
	}, logger)
}

func buildPublisher(cfg *config.Config, dryRun bool, stdout io.Writer, logger *slog.Logger) publish.Publisher {
	if dryRun || cfg.Publish.DryRun || cfg.Publish.WebhookURL == "" {
		return publish.NewDryRun(stdout)
	}
	client := source.NewHTTPClient(source.WithMaxRetries(2), source.WithLogger(logger.With("component", "publish")))
	return publish.NewWebhook(client, cfg.Publish.WebhookURL, cfg.Publish.Secret)
}

func buildAlertManager(cfg *config.Config, client *http.Client) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(client, cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(client, cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(client, cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers, cfg.Alerts.OnSuccess)
}

// runner performs one gated, locked generate-and-publish cycle.
type runner struct {
	*app
	orch      *pipeline.Orchestrator
	publisher publish.Publisher
	alerts    *alert.Manager
	now       func() time.Time
}

func (a *app) newRunner(dryRun bool) *runner {
	client := source.NewHTTPClient(source.WithLogger(a.logger.With("component", "http")))
	alertClient := source.NewHTTPClient(source.WithMaxRetries(2), source.WithLogger(a.logger.With("component", "alert")))
	sel := buildSelector(a.cfg, a.db, client, a.logger)
	return &runner{
		app:       a,
		orch:      buildOrchestrator(a.cfg, a.db, buildGenerator(a.cfg, a.logger), sel, a.logger),
		publisher: buildPublisher(a.cfg, dryRun, a.stdout, a.logger),
		alerts:    buildAlertManager(a.cfg, alertClient),
		now:       time.Now,
	}
}

// publishOnce runs the pipeline if the gate allows and no other process holds
// the publish lock. A post accepted earlier but not yet published is retried
// before a new one is generated. The outcome is nil when nothing ran.
func (r *runner) publishOnce(ctx context.Context, force bool) (*pipeline.Outcome, error) {
	due, err := r.due(ctx, force)
	if err != nil || !due {
		return nil, err
	}

	if n, err := r.db.ExpireLocks(ctx, r.now().Add(-r.cfg.Lock.ParseStaleAfter())); err != nil {
		return nil, fmt.Errorf("expire stale locks: %w", err)
	} else if n > 0 {
		r.logger.Warn("expired stale locks", "count", n)
	}

	runID := uuid.NewString()
	var (
		out pipeline.Outcome
		ran bool
	)
	held, err := store.WithLock(ctx, r.db, publishLock, runID, func(ctx context.Context) error {
		// Another process may have published and advanced the gate while
		// this one waited for the lock.
		due, err := r.due(ctx, force)
		if err != nil || !due {
			return err
		}
		ran = true

		pending, ok, err := r.db.PendingPost(ctx)
		if err != nil {
			return fmt.Errorf("find unpublished post: %w", err)
		}
		if ok {
			out = pipeline.Resume(pending)
		} else {
			out = r.orch.Run(ctx)
		}
		return r.finish(ctx, runID, &out)
	})
	if !held && err == nil {
		r.logger.Info("another run holds the publish lock")
	}
	if !ran {
		return nil, err
	}
	return &out, err
}

func (r *runner) due(ctx context.Context, force bool) (bool, error) {
	due, err := r.gate.ShouldPostNow(ctx, force)
	if err != nil {
		return false, fmt.Errorf("check schedule: %w", err)
	}
	if !due {
		next, _, _ := r.gate.Next(ctx)
		r.logger.Info("not due yet", "next_eligible", next)
	}
	return due, nil
}

// finish publishes an accepted post, commits history and the schedule, then
// reports the outcome.
func (r *runner) finish(ctx context.Context, runID string, out *pipeline.Outcome) error {
	r.metrics.ObserveOutcome(*out)
	logger := r.logger.With("run_id", runID, "topic", out.Selection.Topic, "kind", out.Selection.Kind)
	for _, err := range out.Selection.Skipped {
		logger.Warn("topic source skipped", "error", err)
	}
	if out.Resumed {
		logger.Info("retrying unpublished post", "post_id", out.Post.ID, "attempts", out.Post.PublishAttempts)
	}

	var (
		url    string
		runErr error
	)
	switch out.Status {
	case pipeline.StatusCancelled:
		logger.Warn("run cancelled")
		return out.Err

	case pipeline.StatusFailed:
		logger.Error("run failed", "reason", out.Kind(), "error", out.Err, "candidates", out.Candidates)
		runErr = out.Err

	case pipeline.StatusAccepted:
		res, err := r.publisher.Publish(ctx, out.Post)
		if err != nil {
			r.metrics.ObservePublish("error", r.now())
			abandoned, ferr := r.db.RecordPublishFailure(ctx, out.Post.ID, r.cfg.Publish.MaxAttempts)
			if ferr != nil {
				return errors.Join(fmt.Errorf("publish: %w", err), ferr)
			}
			logger.Error("publish failed", "publisher", r.publisher.Name(), "error", err, "abandoned", abandoned)
			out.Status = pipeline.StatusFailed
			out.Err = fmt.Errorf("publish: %w", err)
			runErr = out.Err
			break
		}
		result := "ok"
		if res.DryRun {
			result = "dry_run"
		}
		r.metrics.ObservePublish(result, r.now())
		url = res.URL

		if err := r.orch.MarkPublished(ctx, out.Post); err != nil {
			return err
		}
		next, err := r.gate.Advance(ctx)
		if err != nil {
			return fmt.Errorf("advance schedule: %w", err)
		}
		logger.Info("post published",
			"title", out.Post.Title,
			"score", out.Post.Score,
			"warning", out.Warning,
			"publisher", r.publisher.Name(),
			"next_eligible", next)
		if out.Warning {
			logger.Warn("accepted with warning", "reason", out.Err)
		}
	}

	r.updateGauges(ctx)

	n := alert.FromOutcome(*out, runID, url, r.now())
	if err := r.alerts.Notify(ctx, n); err != nil {
		logger.Warn("alert delivery failed", "error", err)
	}
	return runErr
}

func (r *runner) updateGauges(ctx context.Context) {
	entries, err := r.db.ListQueue(ctx)
	if err != nil {
		r.logger.Warn("read queue depth", "error", err)
		return
	}
	next, _, err := r.gate.Next(ctx)
	if err != nil {
		r.logger.Warn("read schedule", "error", err)
		return
	}
	r.metrics.SetSchedule(len(entries), next)
}

func runOnce(ctx context.Context, force, dryRun bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.newRunner(dryRun).publishOnce(ctx, force)
	if err != nil {
		return err
	}
	if out == nil {
		fmt.Fprintln(os.Stderr, "nothing to do (not due or locked); use --force to post now")
	}
	return nil
}

func runDaemon(ctx context.Context, port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if port == 0 {
		port = a.cfg.Server.Port
	}

	r := a.newRunner(false)
	d, err := scheduler.NewDaemon(a.gate, a.cfg.Schedule.Cron, a.cfg.Posting.Location(), a.cfg.Schedule.ParseJobTimeout(),
		func(ctx context.Context) error {
			_, err := r.publishOnce(ctx, false)
			return err
		}, a.logger)
	if err != nil {
		return err
	}

	r.updateGauges(ctx)
	srv := server.New(a.db, a.gate, a.reg, port, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error {
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func runServe(ctx context.Context, port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if port == 0 {
		port = a.cfg.Server.Port
	}

	a.newRunner(true).updateGauges(ctx)
	return server.New(a.db, a.gate, a.reg, port, a.logger).ListenAndServe(ctx)
}

func runEnqueue(ctx context.Context, w io.Writer, items []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return enqueueItems(ctx, a.db, w, items)
}

func enqueueItems(ctx context.Context, db store.Store, w io.Writer, items []string) error {
	for _, item := range items {
		// Repositories are stored in owner/name form so URLs and short names
		// dedupe against each other.
		if repo, err := source.ParseRepo(item); err == nil {
			item = repo
		}
		added, err := db.Enqueue(ctx, item)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", item, err)
		}
		if added {
			fmt.Fprintf(w, "queued %s\n", item)
		} else {
			fmt.Fprintf(w, "skipped %s (already queued or used)\n", item)
		}
	}
	return nil
}

func runQueue(ctx context.Context, w io.Writer, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.db.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if jsonOutput {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "queue is empty (add items with: postagent enqueue owner/repo)")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tITEM\tENQUEUED")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, e.Item, e.EnqueuedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runPosts(ctx context.Context, w io.Writer, jsonOutput bool, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	posts, err := a.db.RecentPosts(ctx, limit)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	if jsonOutput {
		return writeJSON(w, posts)
	}
	if len(posts) == 0 {
		fmt.Fprintln(w, "no posts yet (try: postagent run --force --dry-run)")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSTATUS\tSOURCE\tTOPIC\tTITLE\tCREATED")
	for _, p := range posts {
		score := fmt.Sprintf("%d", p.Score)
		if p.QualityWarning {
			score += "!"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", score, p.Status, p.Source, p.Topic, p.Title, p.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runSchedule(ctx context.Context, w io.Writer) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	next, ok, err := a.gate.Next(ctx)
	if err != nil {
		return err
	}
	due, err := a.gate.ShouldPostNow(ctx, false)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(w, "next eligible: %s (due now: %t)\n", next.Format(time.RFC3339), due)
	} else {
		fmt.Fprintln(w, "next eligible: now (no post recorded yet)")
	}

	history, err := a.db.TopicHistory(ctx, 10)
	if err != nil {
		return fmt.Errorf("topic history: %w", err)
	}
	locks, err := a.db.ListLocks(ctx)
	if err != nil {
		return fmt.Errorf("list locks: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(history) > 0 {
		fmt.Fprintln(tw, "\nRECENT TOPIC\tUSED")
		for _, h := range history {
			fmt.Fprintf(tw, "%s\t%s\n", h.Topic, h.UsedAt.Format(time.RFC3339))
		}
	}
	for _, l := range locks {
		fmt.Fprintf(tw, "\nlock %s held by %s since %s\n", l.Name, l.Owner, l.AcquiredAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runUnlock(ctx context.Context, w io.Writer, name string, stale bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return unlock(ctx, a.db, w, name, stale, a.cfg.Lock.ParseStaleAfter(), time.Now())
}

func unlock(ctx context.Context, db store.Store, w io.Writer, name string, stale bool, staleAfter time.Duration, now time.Time) error {
	if stale {
		n, err := db.ExpireLocks(ctx, now.Add(-staleAfter))
		if err != nil {
			return fmt.Errorf("expire locks: %w", err)
		}
		fmt.Fprintf(w, "expired %d stale lock(s)\n", n)
		return nil
	}

	locks, err := db.ListLocks(ctx)
	if err != nil {
		return fmt.Errorf("list locks: %w", err)
	}
	for _, l := range locks {
		if l.Name != name {
			continue
		}
		if err := db.ReleaseLock(ctx, l.Name, l.Owner); err != nil {
			return fmt.Errorf("release %s: %w", name, err)
		}
		fmt.Fprintf(w, "released %s (owner %s)\n", l.Name, l.Owner)
		return nil
	}
	fmt.Fprintf(w, "lock %s is not held\n", name)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
