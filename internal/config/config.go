package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Posting   PostingConfig   `yaml:"posting"`
	Niches    []string        `yaml:"niches"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Quality   QualityConfig   `yaml:"quality"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
	Topics    TopicsConfig    `yaml:"topics"`
	Generator GeneratorConfig `yaml:"generator"`
	Sources   SourcesConfig   `yaml:"sources"`
	Publish   PublishConfig   `yaml:"publish"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Lock      LockConfig      `yaml:"lock"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PostingConfig configures the posting window.
type PostingConfig struct {
	StartTime            string `yaml:"startTime"` // HH:MM, local to Timezone
	TimeIncrementMinutes int    `yaml:"timeIncrementMinutes"`
	Timezone             string `yaml:"timezone"`
	DailyCutoverEnabled  bool   `yaml:"dailyCutoverEnabled"`
	DailyCutoff          string `yaml:"dailyCutoff"` // HH:MM
}

// Location resolves Timezone. Call Validate first; an unknown zone falls back to UTC.
func (p PostingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Increment returns the gap between two posts.
func (p PostingConfig) Increment() time.Duration {
	return time.Duration(p.TimeIncrementMinutes) * time.Minute
}

// DedupConfig configures near-duplicate rejection.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	HistoryWindowSize   int     `yaml:"historyWindowSize"`
	MaxAttempts         int     `yaml:"maxAttempts"`
	OnExhausted         string  `yaml:"onExhausted"` // "reject" or "accept"
}

// Dedup exhaustion policies.
const (
	DedupReject = "reject"
	DedupAccept = "accept"
)

// QualityConfig configures the quality gate.
type QualityConfig struct {
	MinScore      float64  `yaml:"minScore"`
	MaxAttempts   int      `yaml:"maxAttempts"`
	BroadHashtags []string `yaml:"broadHashtags"`
	NicheHashtags []string `yaml:"nicheHashtags"`
}

// CooldownConfig configures topic cooldown.
type CooldownConfig struct {
	Days int `yaml:"days"`
}

// Duration returns the cooldown window.
func (c CooldownConfig) Duration() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// TopicsConfig configures topic selection.
type TopicsConfig struct {
	TrendingProbability float64 `yaml:"trendingProbability"`
	Fallback            string  `yaml:"fallback"`
}

// GeneratorConfig configures the text generation service.
type GeneratorConfig struct {
	Provider    string `yaml:"provider"` // "openai", "anthropic", "openrouter" or "template"
	Model       string `yaml:"model"`    // empty selects the provider default
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"` // custom endpoint (optional)
	MaxAttempts int    `yaml:"maxAttempts"`
	BackoffBase string `yaml:"backoffBase"`
	BackoffMax  string `yaml:"backoffMax"`
	Timeout     string `yaml:"timeout"`
}

// ParseBackoffBase returns the first retry delay.
func (g GeneratorConfig) ParseBackoffBase() time.Duration {
	return parseDuration(g.BackoffBase, time.Second)
}

// ParseBackoffMax returns the retry delay cap.
func (g GeneratorConfig) ParseBackoffMax() time.Duration {
	return parseDuration(g.BackoffMax, 30*time.Second)
}

// ParseTimeout returns the per-call timeout.
func (g GeneratorConfig) ParseTimeout() time.Duration {
	return parseDuration(g.Timeout, 90*time.Second)
}

// SourcesConfig holds configuration for trending feeds and metadata lookup.
type SourcesConfig struct {
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	GitHub     GitHubConfig     `yaml:"github"`
	ArXiv      ArXivConfig      `yaml:"arxiv"`
	RSS        RSSConfig        `yaml:"rss"`
	Filter     FilterConfig     `yaml:"filter"`
}

// HackerNewsConfig for the Hacker News feed.
type HackerNewsConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// GitHubConfig for GitHub search and repository metadata.
type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// ArXivConfig for the arXiv feed.
type ArXivConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`
	MaxResults int      `yaml:"max_results"`
}

// RSSConfig for RSS feeds.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FilterConfig configures trending item filtering.
type FilterConfig struct {
	ExtraKeywords   []string `yaml:"extra_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// PublishConfig configures where accepted posts go.
type PublishConfig struct {
	DryRun     bool   `yaml:"dryRun"`
	WebhookURL string `yaml:"webhook_url"`
	Secret     string `yaml:"secret"`
	// MaxAttempts bounds how many runs try to publish an accepted post
	// before it is abandoned.
	MaxAttempts int `yaml:"maxAttempts"`
}

// AlertsConfig configures run outcome notifications.
type AlertsConfig struct {
	OnSuccess bool          `yaml:"onSuccess"`
	Slack     SlackConfig   `yaml:"slack"`
	Discord   DiscordConfig `yaml:"discord"`
	Webhook   WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScheduleConfig configures the daemon.
type ScheduleConfig struct {
	Cron       string `yaml:"cron"`
	JobTimeout string `yaml:"jobTimeout"`
}

// ParseJobTimeout returns the deadline for one daemon run.
func (s ScheduleConfig) ParseJobTimeout() time.Duration {
	return parseDuration(s.JobTimeout, 10*time.Minute)
}

// LockConfig configures the publish lock.
type LockConfig struct {
	StaleAfter string `yaml:"staleAfter"`
}

// ParseStaleAfter returns the age after which a held lock is considered abandoned.
func (l LockConfig) ParseStaleAfter() time.Duration {
	return parseDuration(l.StaleAfter, 2*time.Hour)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./postagent.db"},
		Posting: PostingConfig{
			StartTime:            "09:00",
			TimeIncrementMinutes: 30,
			Timezone:             "UTC",
			DailyCutoff:          "14:00",
		},
		Niches: []string{
			"GenAI for Drug Discovery",
			"AI Case Studies",
			"MLOps Tips",
			"AI Explainability",
			"AI Tooling and Stacks",
			"Personal AI Learning",
			"Weekly AI Recap",
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.8,
			HistoryWindowSize:   30,
			MaxAttempts:         3,
			OnExhausted:         DedupReject,
		},
		Quality: QualityConfig{
			MinScore:    80,
			MaxAttempts: 2,
		},
		Cooldown: CooldownConfig{Days: 7},
		Topics: TopicsConfig{
			TrendingProbability: 0.3,
			Fallback:            "Artificial Intelligence and Machine Learning",
		},
		Generator: GeneratorConfig{
			Provider:    "template",
			MaxAttempts: 3,
			BackoffBase: "1s",
			BackoffMax:  "30s",
			Timeout:     "90s",
		},
		Sources: SourcesConfig{
			HackerNews: HackerNewsConfig{Enabled: true, Limit: 100},
			GitHub:     GitHubConfig{Enabled: true},
			ArXiv: ArXivConfig{
				Enabled:    false,
				Categories: []string{"cs.AI", "cs.CL", "cs.LG"},
				MaxResults: 30,
			},
			RSS: RSSConfig{
				Enabled: true,
				Feeds: []FeedItem{
					{Name: "TechCrunch AI", URL: "https://techcrunch.com/category/artificial-intelligence/feed/"},
					{Name: "The Verge AI", URL: "https://www.theverge.com/rss/ai-artificial-intelligence/index.xml"},
					{Name: "VentureBeat AI", URL: "https://venturebeat.com/category/ai/feed/"},
				},
			},
		},
		Publish: PublishConfig{DryRun: true, MaxAttempts: 3},
		Server:  ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{
			Cron:       "*/15 * * * *",
			JobTimeout: "10m",
		},
		Lock: LockConfig{StaleAfter: "2h"},
	}
}

// Load reads configuration from a YAML file, loads .env from the working
// directory if present, applies env var overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POSTAGENT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Sources.GitHub.Token = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("PUBLISH_WEBHOOK_URL"); v != "" {
		cfg.Publish.WebhookURL = v
		cfg.Publish.DryRun = false
	}
	// Later keys win, matching the order providers are preferred in.
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
		cfg.Generator.Provider = "openrouter"
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
		cfg.Generator.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
		cfg.Generator.Provider = "anthropic"
	}
}

// Validate checks required fields and ranges. Every returned error wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Database.Path == "" {
		add("database.path is required")
	}
	if _, _, err := ParseClock(c.Posting.StartTime); err != nil {
		add("posting.startTime: %v", err)
	}
	if c.Posting.TimeIncrementMinutes <= 0 {
		add("posting.timeIncrementMinutes must be positive, got %d", c.Posting.TimeIncrementMinutes)
	}
	if _, err := time.LoadLocation(c.Posting.Timezone); err != nil {
		add("posting.timezone %q: %v", c.Posting.Timezone, err)
	}
	if c.Posting.DailyCutoverEnabled {
		if _, _, err := ParseClock(c.Posting.DailyCutoff); err != nil {
			add("posting.dailyCutoff: %v", err)
		}
	}
	if len(c.Niches) == 0 && c.Topics.Fallback == "" {
		add("niches or topics.fallback must be set")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		add("dedup.similarityThreshold must be in (0, 1], got %v", c.Dedup.SimilarityThreshold)
	}
	if c.Dedup.HistoryWindowSize <= 0 {
		add("dedup.historyWindowSize must be positive, got %d", c.Dedup.HistoryWindowSize)
	}
	if c.Dedup.MaxAttempts <= 0 {
		add("dedup.maxAttempts must be positive, got %d", c.Dedup.MaxAttempts)
	}
	if c.Dedup.OnExhausted != DedupReject && c.Dedup.OnExhausted != DedupAccept {
		add("dedup.onExhausted must be %q or %q, got %q", DedupReject, DedupAccept, c.Dedup.OnExhausted)
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 100 {
		add("quality.minScore must be in [0, 100], got %v", c.Quality.MinScore)
	}
	if c.Quality.MaxAttempts <= 0 {
		add("quality.maxAttempts must be positive, got %d", c.Quality.MaxAttempts)
	}
	if c.Cooldown.Days < 0 {
		add("cooldown.days must not be negative, got %d", c.Cooldown.Days)
	}
	if c.Topics.TrendingProbability < 0 || c.Topics.TrendingProbability > 1 {
		add("topics.trendingProbability must be in [0, 1], got %v", c.Topics.TrendingProbability)
	}
	if c.Generator.MaxAttempts <= 0 {
		add("generator.maxAttempts must be positive, got %d", c.Generator.MaxAttempts)
	}
	switch c.Generator.Provider {
	case "template":
	case "openai", "anthropic", "openrouter":
		if c.Generator.APIKey == "" {
			add("generator.api_key is required for provider %q", c.Generator.Provider)
		}
	default:
		add("generator.provider %q is not supported", c.Generator.Provider)
	}
	for key, v := range map[string]string{
		"generator.backoffBase": c.Generator.BackoffBase,
		"generator.backoffMax":  c.Generator.BackoffMax,
		"generator.timeout":     c.Generator.Timeout,
		"schedule.jobTimeout":   c.Schedule.JobTimeout,
		"lock.staleAfter":       c.Lock.StaleAfter,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			add("%s must be a positive duration, got %q", key, v)
		}
	}
	if c.Publish.MaxAttempts <= 0 {
		add("publish.maxAttempts must be positive, got %d", c.Publish.MaxAttempts)
	}
	if !c.Publish.DryRun && c.Publish.WebhookURL == "" {
		add("publish.webhook_url is required unless publish.dryRun is set")
	}

	return errors.Join(errs...)
}

// ParseClock parses an HH:MM wall clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
