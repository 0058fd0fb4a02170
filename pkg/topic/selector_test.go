package topic

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	queue   []string
	state   map[string]string
	history map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: map[string]string{}, history: map[string]time.Time{}}
}

func (f *fakeStore) DequeueFront(context.Context) (string, bool, error) {
	if len(f.queue) == 0 {
		return "", false, nil
	}
	item := f.queue[0]
	f.queue = f.queue[1:]
	return item, true, nil
}

func (f *fakeStore) GetState(_ context.Context, key string) (string, bool, error) {
	v, ok := f.state[key]
	return v, ok, nil
}

func (f *fakeStore) SetState(_ context.Context, key, value string) error {
	f.state[key] = value
	return nil
}

func (f *fakeStore) LastTopicUse(_ context.Context, topic string) (time.Time, bool, error) {
	t, ok := f.history[topic]
	return t, ok, nil
}

type fakeTrending struct {
	topics []string
	err    error
}

func (f fakeTrending) Trending(context.Context) ([]string, error) { return f.topics, f.err }

type fakeMetadata struct {
	md  Metadata
	err error
}

func (f fakeMetadata) Fetch(context.Context, string) (Metadata, error) { return f.md, f.err }

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func TestSelectPrefersQueue(t *testing.T) {
	st := newFakeStore()
	st.queue = []string{"acme/agent-kit"}
	s := NewSelector(st, Options{
		Niches:   []string{"MLOps"},
		Metadata: fakeMetadata{md: Metadata{"name": "agent-kit", "description": "Agents toolkit"}},
		Now:      clock,
	})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindQueue, sel.Kind)
	assert.Equal(t, 10, sel.Priority)
	assert.Equal(t, "agent-kit", sel.Topic)
	assert.Equal(t, "acme/agent-kit", sel.Metadata["item"])
	assert.Equal(t, "Agents toolkit", sel.Metadata["description"])
	assert.Empty(t, st.queue)
}

func TestSelectQueueMetadataFailureFallsBack(t *testing.T) {
	st := newFakeStore()
	st.queue = []string{"acme/agent-kit"}
	s := NewSelector(st, Options{Metadata: fakeMetadata{err: errors.New("rate limited")}, Now: clock})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindQueue, sel.Kind)
	assert.Equal(t, "acme/agent-kit", sel.Topic)
	assert.Equal(t, Metadata{"item": "acme/agent-kit"}, sel.Metadata)
	require.Len(t, sel.Skipped, 1)
	assert.ErrorContains(t, sel.Skipped[0], "rate limited")
}

func TestSelectTrendingWithProbability(t *testing.T) {
	st := newFakeStore()
	s := NewSelector(st, Options{
		Niches:              []string{"MLOps"},
		TrendingProbability: 1,
		Trending:            fakeTrending{topics: []string{"Small language models"}},
		Now:                 clock,
	})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindTrending, sel.Kind)
	assert.Equal(t, 6, sel.Priority)
	assert.Equal(t, "Small language models", sel.Topic)
	_, cursorMoved := st.state[CursorKey]
	assert.False(t, cursorMoved)
}

func TestSelectTrendingSkippedByRoll(t *testing.T) {
	s := NewSelector(newFakeStore(), Options{
		Niches:              []string{"MLOps"},
		TrendingProbability: 0,
		Trending:            fakeTrending{topics: []string{"Small language models"}},
		Rand:                rand.New(rand.NewSource(1)),
		Now:                 clock,
	})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindNiche, sel.Kind)
}

func TestSelectTrendingErrorFallsThrough(t *testing.T) {
	s := NewSelector(newFakeStore(), Options{
		Niches:              []string{"MLOps"},
		TrendingProbability: 1,
		Trending:            fakeTrending{err: errors.New("feed down")},
		Now:                 clock,
	})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindNiche, sel.Kind)
	assert.Equal(t, "MLOps", sel.Topic)
	require.Len(t, sel.Skipped, 1)
	assert.ErrorContains(t, sel.Skipped[0], "trending: feed down")
}

func TestSelectTrendingRespectsCooldown(t *testing.T) {
	st := newFakeStore()
	st.history["Small language models"] = now.Add(-24 * time.Hour)
	s := NewSelector(st, Options{
		Niches:              []string{"MLOps"},
		Cooldown:            7 * 24 * time.Hour,
		TrendingProbability: 1,
		Trending:            fakeTrending{topics: []string{"Small language models", "Agent memory"}},
		Now:                 clock,
	})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Agent memory", sel.Topic)
}

func TestRoundRobinCoverage(t *testing.T) {
	niches := []string{"A", "B", "C", "D"}
	st := newFakeStore()
	s := NewSelector(st, Options{Niches: niches, Now: clock})

	seen := map[string]int{}
	var order []string
	for range niches {
		sel, err := s.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, KindNiche, sel.Kind)
		assert.Equal(t, 4, sel.Priority)
		seen[sel.Topic]++
		order = append(order, sel.Topic)
	}
	assert.Equal(t, niches, order)
	for _, n := range niches {
		assert.Equal(t, 1, seen[n])
	}
	assert.Equal(t, "3", st.state[CursorKey])

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", sel.Topic)
}

func TestRoundRobinSkipsCooldown(t *testing.T) {
	st := newFakeStore()
	st.state[CursorKey] = "0"
	st.history["B"] = now.Add(-2 * 24 * time.Hour)
	s := NewSelector(st, Options{Niches: []string{"A", "B", "C"}, Cooldown: 7 * 24 * time.Hour, Now: clock})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C", sel.Topic)
	assert.Equal(t, "2", st.state[CursorKey])
}

func TestRoundRobinAllOnCooldownAdvancesByOne(t *testing.T) {
	st := newFakeStore()
	st.state[CursorKey] = "2"
	for _, n := range []string{"A", "B", "C"} {
		st.history[n] = now.Add(-time.Hour)
	}
	s := NewSelector(st, Options{Niches: []string{"A", "B", "C"}, Cooldown: 7 * 24 * time.Hour, Now: clock})

	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", sel.Topic)
	assert.Equal(t, "0", st.state[CursorKey])
}

func TestSelectFallback(t *testing.T) {
	s := NewSelector(newFakeStore(), Options{Now: clock})
	sel, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KindFallback, sel.Kind)
	assert.Equal(t, 1, sel.Priority)
	assert.Equal(t, DefaultFallback, sel.Topic)
}

func TestCooldownBoundary(t *testing.T) {
	st := newFakeStore()
	used := now
	st.history["MLOps"] = used

	current := used.Add(6 * 24 * time.Hour)
	s := NewSelector(st, Options{Cooldown: 7 * 24 * time.Hour, Now: func() time.Time { return current }})

	cool, err := s.OnCooldown(context.Background(), "MLOps")
	require.NoError(t, err)
	assert.True(t, cool)

	current = used.Add(8 * 24 * time.Hour)
	cool, err = s.OnCooldown(context.Background(), "MLOps")
	require.NoError(t, err)
	assert.False(t, cool)

	cool, err = s.OnCooldown(context.Background(), "never used")
	require.NoError(t, err)
	assert.False(t, cool)
}

func TestCorruptCursorSurfaces(t *testing.T) {
	st := newFakeStore()
	st.state[CursorKey] = "two"
	s := NewSelector(st, Options{Niches: []string{"A"}, Now: clock})
	_, err := s.Select(context.Background())
	assert.Error(t, err)
}
