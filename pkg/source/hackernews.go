package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const hnBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews collects AI-related top stories from Hacker News.
type HackerNews struct {
	client  *http.Client
	baseURL string
	limit   int
	filter  *Filter
}

// NewHackerNews creates an HN collector reading the top limit stories.
func NewHackerNews(client *http.Client, limit int, filter *Filter) *HackerNews {
	if limit <= 0 {
		limit = 100
	}
	return &HackerNews{
		client:  client,
		baseURL: hnBaseURL,
		limit:   limit,
		filter:  filter,
	}
}

func (h *HackerNews) Name() SourceType { return SourceHackerNews }

// Collect returns matching stories in front-page order.
func (h *HackerNews) Collect(ctx context.Context) ([]Item, error) {
	ids, err := h.fetchTopStories(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	stories := make([]*hnStory, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, id := range ids {
		g.Go(func() error {
			// Single item failures only drop that story.
			story, err := h.fetchItem(gctx, id)
			if err == nil {
				stories[i] = story
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []Item
	for _, story := range stories {
		if story == nil {
			continue
		}
		if h.filter != nil && !h.filter.Match(story.Title+" "+story.URL) {
			continue
		}
		url := story.URL
		if url == "" {
			url = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		items = append(items, Item{
			ID:          fmt.Sprintf("hackernews:%d", story.ID),
			Source:      SourceHackerNews,
			Title:       story.Title,
			URL:         url,
			Score:       story.Score,
			PublishedAt: time.Unix(story.Time, 0).UTC(),
		})
	}
	return items, nil
}

type hnStory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

func (h *HackerNews) fetchTopStories(ctx context.Context) ([]int, error) {
	var ids []int
	if err := h.getJSON(ctx, h.baseURL+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("fetch hn top stories: %w", err)
	}
	return ids, nil
}

func (h *HackerNews) fetchItem(ctx context.Context, id int) (*hnStory, error) {
	var story hnStory
	if err := h.getJSON(ctx, fmt.Sprintf("%s/item/%d.json", h.baseURL, id), &story); err != nil {
		return nil, fmt.Errorf("fetch hn item %d: %w", id, err)
	}
	if story.Type != "story" {
		return nil, nil
	}
	return &story, nil
}

func (h *HackerNews) getJSON(ctx context.Context, url string, out any) error {
	req, err := newRequest(ctx, url)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
