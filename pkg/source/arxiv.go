package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const arxivBaseURL = "https://export.arxiv.org/api/query"

// ArXiv collects recent papers from arXiv categories.
type ArXiv struct {
	client     *http.Client
	baseURL    string
	categories []string
	maxResults int
}

// NewArXiv creates an arXiv collector.
func NewArXiv(client *http.Client, categories []string, maxResults int) *ArXiv {
	if len(categories) == 0 {
		categories = []string{"cs.AI", "cs.CL", "cs.LG"}
	}
	if maxResults <= 0 {
		maxResults = 30
	}
	return &ArXiv{
		client:     client,
		baseURL:    arxivBaseURL,
		categories: categories,
		maxResults: maxResults,
	}
}

func (a *ArXiv) Name() SourceType { return SourceArXiv }

// Collect returns the newest submissions. arXiv has no popularity signal, so
// items carry a zero score.
func (a *ArXiv) Collect(ctx context.Context) ([]Item, error) {
	parts := make([]string, 0, len(a.categories))
	for _, cat := range a.categories {
		parts = append(parts, "cat:"+cat)
	}
	// The API expects a literal +OR+ in search_query.
	reqURL := fmt.Sprintf("%s?search_query=%s&sortBy=submittedDate&sortOrder=descending&max_results=%d",
		a.baseURL, strings.Join(parts, "+OR+"), a.maxResults)

	feed, err := fetchFeed(ctx, a.client, reqURL)
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}
		items = append(items, Item{
			ID:          "arxiv:" + extractArXivID(entry.GUID),
			Source:      SourceArXiv,
			Title:       strings.Join(strings.Fields(entry.Title), " "),
			URL:         entry.Link,
			Description: truncate(strings.TrimSpace(entry.Description), 500),
			Tags:        entry.Categories,
			PublishedAt: published,
		})
	}
	return items, nil
}

// extractArXivID turns "http://arxiv.org/abs/2402.12345v1" into "2402.12345".
func extractArXivID(uri string) string {
	_, id, ok := strings.Cut(uri, "/abs/")
	if !ok {
		return uri
	}
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		id = id[:idx]
	}
	return id
}
