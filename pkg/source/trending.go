package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Trending merges several sources into a ranked list of topic candidates.
type Trending struct {
	sources []Source
	limit   int
	logger  *slog.Logger
	now     func() time.Time
}

// NewTrending creates an aggregator returning at most limit topics.
func NewTrending(sources []Source, limit int, logger *slog.Logger) *Trending {
	if limit <= 0 {
		limit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trending{sources: sources, limit: limit, logger: logger.With("component", "trending"), now: time.Now}
}

// Sources returns the configured sources.
func (t *Trending) Sources() []Source { return t.sources }

// Trending collects every source concurrently, clusters related items and
// returns the best-ranked cluster titles. It fails only when every source
// fails.
func (t *Trending) Trending(ctx context.Context) ([]string, error) {
	if len(t.sources) == 0 {
		return nil, nil
	}

	results := make([][]Item, len(t.sources))
	errs := make([]error, len(t.sources))
	var g errgroup.Group
	for i, src := range t.sources {
		g.Go(func() error {
			items, err := src.Collect(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				return nil
			}
			sort.SliceStable(items, func(a, b int) bool { return items[a].Score > items[b].Score })
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			t.logger.Warn("trending source failed", "error", err)
		}
	}
	if failed == len(t.sources) {
		return nil, errors.Join(errs...)
	}

	return topics(Rank(interleave(results), t.now()), t.limit), nil
}

// interleave merges per-source lists rank by rank so that, on equal scores,
// no single feed dominates.
func interleave(lists [][]Item) []Item {
	var out []Item
	for rank := 0; ; rank++ {
		more := false
		for _, items := range lists {
			if rank < len(items) {
				out = append(out, items[rank])
				more = true
			}
		}
		if !more {
			return out
		}
	}
}

func topics(clusters []Cluster, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range clusters {
		title := strings.Join(strings.Fields(c.Topic), " ")
		key := strings.ToLower(title)
		if title == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, truncate(title, 120))
		if len(out) == limit {
			break
		}
	}
	return out
}
