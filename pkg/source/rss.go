package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// RSS collects recent entries from RSS/Atom feeds.
type RSS struct {
	client *http.Client
	feeds  []RSSFeed
	filter *Filter
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRSS creates an RSS collector. Entries older than a day are skipped.
func NewRSS(client *http.Client, feeds []RSSFeed, filter *Filter, logger *slog.Logger) *RSS {
	if logger == nil {
		logger = slog.Default()
	}
	return &RSS{
		client: client,
		feeds:  feeds,
		filter: filter,
		maxAge: 24 * time.Hour,
		now:    time.Now,
		logger: logger.With("source", SourceRSS),
	}
}

func (r *RSS) Name() SourceType { return SourceRSS }

// Collect reads every feed. A failing feed is logged and skipped; the call
// only fails when all feeds fail.
func (r *RSS) Collect(ctx context.Context) ([]Item, error) {
	var (
		all    []Item
		failed int
		last   error
	)
	for _, feed := range r.feeds {
		items, err := r.collectFeed(ctx, feed)
		if err != nil {
			r.logger.Warn("feed failed", "feed", feed.Name, "error", err)
			failed++
			last = err
			continue
		}
		all = append(all, items...)
	}
	if len(r.feeds) > 0 && failed == len(r.feeds) {
		return nil, fmt.Errorf("all %d rss feeds failed: %w", failed, last)
	}
	return all, nil
}

func (r *RSS) collectFeed(ctx context.Context, feed RSSFeed) ([]Item, error) {
	parsed, err := fetchFeed(ctx, r.client, feed.URL)
	if err != nil {
		return nil, fmt.Errorf("rss %s: %w", feed.Name, err)
	}

	var items []Item
	cutoff := r.now().Add(-r.maxAge)
	for _, entry := range parsed.Items {
		published := r.now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}
		if published.Before(cutoff) {
			continue
		}
		if r.filter != nil && !r.filter.Match(entry.Title+" "+entry.Description) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}
		items = append(items, Item{
			ID:          fmt.Sprintf("rss:%s:%s", feed.Name, entry.GUID),
			Source:      SourceRSS,
			Title:       entry.Title,
			URL:         link,
			Description: truncate(entry.Description, 500),
			Tags:        entry.Categories,
			PublishedAt: published,
		})
	}
	return items, nil
}

// fetchFeed downloads and parses an RSS or Atom document.
func fetchFeed(ctx context.Context, client *http.Client, url string) (*gofeed.Feed, error) {
	req, err := newRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return parsed, nil
}
