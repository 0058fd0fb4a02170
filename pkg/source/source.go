package source

import (
	"context"
	"time"
)

// SourceType identifies which feed an item came from.
type SourceType string

const (
	SourceHackerNews SourceType = "hackernews"
	SourceGitHub     SourceType = "github"
	SourceArXiv      SourceType = "arxiv"
	SourceRSS        SourceType = "rss"
)

// Item is one trending entry from a feed.
type Item struct {
	ID          string     `json:"id"`
	Source      SourceType `json:"source"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	Score       int        `json:"score"`
	Tags        []string   `json:"tags,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// Source is implemented by every trending feed.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Item, error)
}

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceHackerNews,
		SourceGitHub,
		SourceArXiv,
		SourceRSS,
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
