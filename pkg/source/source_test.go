package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *http.Client {
	return NewHTTPClient(WithMaxRetries(2), WithRetryWait(time.Millisecond, 5*time.Millisecond))
}

func TestFilterMatch(t *testing.T) {
	f := NewFilter([]string{"sqlite"}, []string{"crypto"})
	assert.True(t, f.Match("New open LLMs for code"))
	assert.True(t, f.Match("Building RAG pipelines"))
	assert.False(t, f.Match("Cloud storage pricing"))
	assert.True(t, f.Match("SQLite is enough"))
	assert.False(t, f.Match("An AI agent for crypto trading"))
	assert.False(t, f.Match(""))
}

func TestParseRepo(t *testing.T) {
	for in, want := range map[string]string{
		"acme/agent-kit":                         "acme/agent-kit",
		"https://github.com/acme/agent-kit":      "acme/agent-kit",
		"github.com/acme/agent-kit.git":          "acme/agent-kit",
		"https://github.com/acme/agent-kit/tree": "acme/agent-kit",
	} {
		got, err := ParseRepo(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRepo("agent-kit")
	assert.Error(t, err)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := testClient().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := testClient().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGitHubFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/acme/agent-kit":
			fmt.Fprint(w, `{"name":"agent-kit","full_name":"acme/agent-kit","html_url":"https://github.com/acme/agent-kit",
				"description":"Toolkit for agents","stargazers_count":42,"language":"Go","topics":["ai","agents"]}`)
		case "/repos/acme/agent-kit/readme":
			assert.Equal(t, "application/vnd.github.raw", r.Header.Get("Accept"))
			fmt.Fprint(w, "# Agent Kit\n\n**Fast** agents for   everyone.")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGitHub(testClient(), "tok")
	g.baseURL = srv.URL

	md, err := g.Fetch(context.Background(), "https://github.com/acme/agent-kit")
	require.NoError(t, err)
	assert.Equal(t, "agent-kit", md["name"])
	assert.Equal(t, "Toolkit for agents", md["description"])
	assert.Equal(t, "42", md["stars"])
	assert.Equal(t, "ai, agents", md["topics"])
	assert.Equal(t, "Agent Kit Fast agents for everyone.", md["readme"])
}

func TestGitHubFetchWithoutReadme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/bare" {
			fmt.Fprint(w, `{"name":"bare","full_name":"acme/bare"}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := NewGitHub(testClient(), "")
	g.baseURL = srv.URL
	md, err := g.Fetch(context.Background(), "acme/bare")
	require.NoError(t, err)
	assert.Equal(t, "bare", md["name"])
	assert.NotContains(t, md, "readme")
	assert.NotContains(t, md, "description")
}

func TestGitHubRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGitHub(testClient(), "")
	g.baseURL = srv.URL
	_, err := g.Fetch(context.Background(), "acme/agent-kit")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGitHubCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("q"), "created:>2025-05-24")
		fmt.Fprint(w, `{"total_count":1,"items":[{"name":"agent-kit","full_name":"acme/agent-kit","stargazers_count":10,"language":"Go","topics":["ai"]}]}`)
	}))
	defer srv.Close()

	g := NewGitHub(testClient(), "")
	g.baseURL = srv.URL
	g.now = func() time.Time { return time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC) }

	items, err := g.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "agent-kit", items[0].Title)
	assert.Equal(t, []string{"ai", "Go"}, items[0].Tags)
}

func TestHackerNewsCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topstories.json":
			fmt.Fprint(w, `[1,2,3,4]`)
		case "/item/1.json":
			fmt.Fprint(w, `{"id":1,"title":"Show HN: A tiny LLM inference server","score":120,"type":"story","time":1700000000}`)
		case "/item/2.json":
			fmt.Fprint(w, `{"id":2,"title":"Gardening tips","score":300,"type":"story"}`)
		case "/item/3.json":
			fmt.Fprint(w, `{"id":3,"title":"Hiring: ML engineer","type":"job"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	h := NewHackerNews(testClient(), 10, NewFilter(nil, nil))
	h.baseURL = srv.URL

	items, err := h.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hackernews:1", items[0].ID)
	assert.Equal(t, "https://news.ycombinator.com/item?id=1", items[0].URL)
	assert.Equal(t, 120, items[0].Score)
}

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>AI news</title>
<item><title>New diffusion model beats benchmarks</title><link>https://example.com/a</link><guid>a</guid><pubDate>Fri, 30 May 2025 10:00:00 GMT</pubDate></item>
<item><title>Old machine learning story</title><link>https://example.com/b</link><guid>b</guid><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>Sports results</title><link>https://example.com/c</link><guid>c</guid><pubDate>Fri, 30 May 2025 11:00:00 GMT</pubDate></item>
</channel></rss>`

func TestRSSCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssDoc)
	}))
	defer srv.Close()

	r := NewRSS(NewHTTPClient(WithMaxRetries(0)), []RSSFeed{
		{Name: "good", URL: srv.URL + "/feed"},
		{Name: "bad", URL: srv.URL + "/broken"},
	}, NewFilter(nil, nil), nil)
	r.now = func() time.Time { return time.Date(2025, 5, 30, 20, 0, 0, 0, time.UTC) }

	items, err := r.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "New diffusion model beats benchmarks", items[0].Title)
	assert.Equal(t, "rss:good:a", items[0].ID)

	r.feeds = r.feeds[1:]
	_, err = r.Collect(context.Background())
	assert.Error(t, err)
}

const atomDoc = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>arXiv query results</title>
  <entry>
    <id>http://arxiv.org/abs/2402.12345v2</id>
    <published>2025-05-30T00:00:00Z</published>
    <title>Sparse Attention
      for Long Contexts</title>
    <summary>We study attention.</summary>
    <link href="http://arxiv.org/abs/2402.12345v2" rel="alternate" type="text/html"/>
    <category term="cs.CL"/>
  </entry>
</feed>`

func TestArXivCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "search_query=cat:cs.AI+OR+cat:cs.CL")
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, atomDoc)
	}))
	defer srv.Close()

	a := NewArXiv(testClient(), []string{"cs.AI", "cs.CL"}, 5)
	a.baseURL = srv.URL

	items, err := a.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "arxiv:2402.12345", items[0].ID)
	assert.Equal(t, "Sparse Attention for Long Contexts", items[0].Title)
	assert.Equal(t, []string{"cs.CL"}, items[0].Tags)
}

type stubSource struct {
	name  SourceType
	items []Item
	err   error
}

func (s stubSource) Name() SourceType                        { return s.name }
func (s stubSource) Collect(context.Context) ([]Item, error) { return s.items, s.err }

func TestTrendingRanksClusters(t *testing.T) {
	tr := NewTrending([]Source{
		stubSource{name: SourceHackerNews, items: []Item{
			{Source: SourceHackerNews, Title: "Gardening robots", Score: 5},
			{Source: SourceHackerNews, Title: "Small model tops coding benchmark", Score: 400},
		}},
		stubSource{name: SourceRSS, items: []Item{
			{Source: SourceRSS, Title: "Vector database pricing"},
			{Source: SourceRSS, Title: "Small model tops the coding benchmark"},
		}},
		stubSource{name: SourceGitHub, err: errors.New("down")},
	}, 3, nil)

	got, err := tr.Trending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Small model tops coding benchmark",
		"Gardening robots",
		"Vector database pricing",
	}, got)
}

func TestRankPrefersFreshItems(t *testing.T) {
	now := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	clusters := Rank([]Item{
		{Source: SourceRSS, Title: "Yesterday's news", PublishedAt: now.Add(-30 * time.Hour)},
		{Source: SourceRSS, Title: "Fresh release notes", PublishedAt: now.Add(-time.Hour)},
	}, now)
	require.Len(t, clusters, 2)
	assert.Equal(t, "Fresh release notes", clusters[0].Topic)
	assert.Greater(t, clusters[0].Score, clusters[1].Score)
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 50.0, NormalizeScore(250, SourceHackerNews))
	assert.Equal(t, 100.0, NormalizeScore(5000, SourceHackerNews))
	assert.Equal(t, 0.0, NormalizeScore(900, SourceRSS))
	assert.Equal(t, 0.0, NormalizeScore(-3, SourceGitHub))
}

func TestTrendingAllFail(t *testing.T) {
	tr := NewTrending([]Source{
		stubSource{name: SourceHackerNews, err: errors.New("a")},
		stubSource{name: SourceRSS, err: errors.New("b")},
	}, 5, nil)
	_, err := tr.Trending(context.Background())
	assert.Error(t, err)

	got, err := NewTrending(nil, 5, nil).Trending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
