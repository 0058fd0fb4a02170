package topic

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// CursorKey is the state key holding the round-robin niche index.
const CursorKey = "topic.niche_cursor"

// DefaultFallback is used when no other source yields a topic.
const DefaultFallback = "Artificial Intelligence and Machine Learning"

// Kind is where a topic came from.
type Kind string

const (
	KindQueue    Kind = "queue"
	KindTrending Kind = "trending"
	KindNiche    Kind = "niche"
	KindFallback Kind = "fallback"
)

// Priority of each kind, highest wins.
func (k Kind) Priority() int {
	switch k {
	case KindQueue:
		return 10
	case KindTrending:
		return 6
	case KindNiche:
		return 4
	default:
		return 1
	}
}

// Metadata is enrichment for a queued item, e.g. repository details.
type Metadata map[string]string

// Selection is the chosen topic.
type Selection struct {
	Topic    string   `json:"topic"`
	Kind     Kind     `json:"kind"`
	Priority int      `json:"priority"`
	Metadata Metadata `json:"metadata,omitempty"`
	// Skipped holds failures of preferred sources the selection fell
	// through, for the caller to report.
	Skipped []error `json:"-"`
}

// Store is the persistence the selector needs.
type Store interface {
	DequeueFront(ctx context.Context) (string, bool, error)
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	LastTopicUse(ctx context.Context, topic string) (time.Time, bool, error)
}

// TrendingProvider returns currently trending topics, best first.
type TrendingProvider interface {
	Trending(ctx context.Context) ([]string, error)
}

// MetadataFetcher enriches a queued item.
type MetadataFetcher interface {
	Fetch(ctx context.Context, item string) (Metadata, error)
}

// Options configures a Selector.
type Options struct {
	Niches              []string
	Fallback            string
	Cooldown            time.Duration
	TrendingProbability float64

	Trending TrendingProvider // optional
	Metadata MetadataFetcher  // optional
	Rand     *rand.Rand       // optional, seeded from the clock when nil
	Now      func() time.Time // optional
}

// Selector picks the next topic: a queued item, then (with probability P) a
// trending topic, then the next niche off cooldown, then the fallback topic.
// Selection never records topic history.
type Selector struct {
	store    Store
	niches   []string
	fallback string
	cooldown time.Duration
	pTrend   float64
	trending TrendingProvider
	metadata MetadataFetcher
	rng      *rand.Rand
	now      func() time.Time
}

// NewSelector creates a selector.
func NewSelector(s Store, opts Options) *Selector {
	if opts.Fallback == "" {
		opts.Fallback = DefaultFallback
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Selector{
		store:    s,
		niches:   opts.Niches,
		fallback: opts.Fallback,
		cooldown: opts.Cooldown,
		pTrend:   opts.TrendingProbability,
		trending: opts.Trending,
		metadata: opts.Metadata,
		rng:      opts.Rand,
		now:      opts.Now,
	}
}

// Select returns the next topic.
func (s *Selector) Select(ctx context.Context) (Selection, error) {
	item, ok, err := s.store.DequeueFront(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("dequeue: %w", err)
	}
	if ok {
		return s.fromQueue(ctx, item), nil
	}

	var skipped []error
	if s.trending != nil && s.pTrend > 0 && s.rng.Float64() < s.pTrend {
		topics, err := s.trending.Trending(ctx)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("trending: %w", err))
		} else {
			sel, ok, err := s.firstOffCooldown(ctx, topics)
			if err != nil {
				return Selection{}, err
			}
			if ok {
				return sel, nil
			}
		}
	}

	sel := newSelection(s.fallback, KindFallback, nil)
	if len(s.niches) > 0 {
		if sel, err = s.nextNiche(ctx); err != nil {
			return Selection{}, err
		}
	}
	sel.Skipped = skipped
	return sel, nil
}

// OnCooldown reports whether topic was published within the cooldown window.
func (s *Selector) OnCooldown(ctx context.Context, topic string) (bool, error) {
	if s.cooldown <= 0 {
		return false, nil
	}
	last, ok, err := s.store.LastTopicUse(ctx, topic)
	if err != nil {
		return false, fmt.Errorf("last use of %q: %w", topic, err)
	}
	if !ok {
		return false, nil
	}
	return s.now().Sub(last) < s.cooldown, nil
}

func (s *Selector) fromQueue(ctx context.Context, item string) Selection {
	var skipped []error
	md := Metadata{"item": item}
	if s.metadata != nil {
		fetched, err := s.metadata.Fetch(ctx, item)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("metadata for %s: %w", item, err))
		} else {
			for k, v := range fetched {
				md[k] = v
			}
		}
	}

	topic := item
	if name := md["name"]; name != "" {
		topic = name
	}
	sel := newSelection(topic, KindQueue, md)
	sel.Skipped = skipped
	return sel
}

// firstOffCooldown returns the best trending topic not on cooldown.
func (s *Selector) firstOffCooldown(ctx context.Context, topics []string) (Selection, bool, error) {
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		cool, err := s.OnCooldown(ctx, t)
		if err != nil {
			return Selection{}, false, err
		}
		if !cool {
			return newSelection(t, KindTrending, nil), true, nil
		}
	}
	return Selection{}, false, nil
}

// nextNiche scans forward from the persisted cursor for the first niche not
// on cooldown. If every niche is cooling down it still advances by one.
func (s *Selector) nextNiche(ctx context.Context) (Selection, error) {
	n := len(s.niches)
	idx, err := s.cursor(ctx)
	if err != nil {
		return Selection{}, err
	}

	pick := ((idx+1)%n + n) % n
	for i := 1; i <= n; i++ {
		j := ((idx+i)%n + n) % n
		cool, err := s.OnCooldown(ctx, s.niches[j])
		if err != nil {
			return Selection{}, err
		}
		if !cool {
			pick = j
			break
		}
	}

	if err := s.store.SetState(ctx, CursorKey, strconv.Itoa(pick)); err != nil {
		return Selection{}, fmt.Errorf("persist niche cursor: %w", err)
	}
	return newSelection(s.niches[pick], KindNiche, nil), nil
}

func (s *Selector) cursor(ctx context.Context) (int, error) {
	raw, ok, err := s.store.GetState(ctx, CursorKey)
	if err != nil {
		return 0, fmt.Errorf("load niche cursor: %w", err)
	}
	if !ok {
		return -1, nil
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse niche cursor %q: %w", raw, err)
	}
	return idx, nil
}

func newSelection(topic string, kind Kind, md Metadata) Selection {
	return Selection{Topic: topic, Kind: kind, Priority: kind.Priority(), Metadata: md}
}
