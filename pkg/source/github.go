package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/topic"
)

const githubAPI = "https://api.github.com"

// ErrRateLimited is returned when GitHub refuses a request for quota reasons.
var ErrRateLimited = errors.New("github rate limited")

// GitHub collects newly created, fast-rising AI repositories and looks up
// repository details for queued items.
type GitHub struct {
	client  *http.Client
	baseURL string
	token   string
	now     func() time.Time
}

// NewGitHub creates a GitHub client. The token is optional.
func NewGitHub(client *http.Client, token string) *GitHub {
	return &GitHub{
		client:  client,
		baseURL: githubAPI,
		token:   token,
		now:     time.Now,
	}
}

func (g *GitHub) Name() SourceType { return SourceGitHub }

// Collect searches AI repositories created in the last week, most starred first.
func (g *GitHub) Collect(ctx context.Context) ([]Item, error) {
	since := g.now().AddDate(0, 0, -7).Format("2006-01-02")
	query := fmt.Sprintf("created:>%s (topic:ai OR topic:llm OR topic:machine-learning OR topic:deep-learning OR topic:mlops)", since)

	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", "30")

	var result ghSearchResult
	if err := g.getJSON(ctx, "/search/repositories?"+params.Encode(), &result); err != nil {
		return nil, fmt.Errorf("search github: %w", err)
	}

	items := make([]Item, 0, len(result.Items))
	for _, repo := range result.Items {
		tags := repo.Topics
		if repo.Language != "" {
			tags = append(tags, repo.Language)
		}
		items = append(items, Item{
			ID:          "github:" + repo.FullName,
			Source:      SourceGitHub,
			Title:       repo.Name,
			URL:         repo.HTMLURL,
			Description: repo.Description,
			Score:       repo.Stars,
			Tags:        tags,
			PublishedAt: repo.CreatedAt,
		})
	}
	return items, nil
}

// Fetch returns repository details for a queued item, which may be
// "owner/repo" or a github.com URL. A missing README is not an error.
func (g *GitHub) Fetch(ctx context.Context, item string) (topic.Metadata, error) {
	full, err := ParseRepo(item)
	if err != nil {
		return nil, err
	}

	var repo ghRepo
	if err := g.getJSON(ctx, "/repos/"+full, &repo); err != nil {
		return nil, fmt.Errorf("fetch repo %s: %w", full, err)
	}

	md := topic.Metadata{
		"name":     repo.Name,
		"repo":     repo.FullName,
		"url":      repo.HTMLURL,
		"stars":    strconv.Itoa(repo.Stars),
		"language": repo.Language,
		"topics":   strings.Join(repo.Topics, ", "),
	}
	if repo.Description != "" {
		md["description"] = repo.Description
	}

	if readme, err := g.readme(ctx, full); err == nil && readme != "" {
		md["readme"] = readme
	}
	for k, v := range md {
		if v == "" {
			delete(md, k)
		}
	}
	return md, nil
}

// readme returns a cleaned excerpt of the repository README.
func (g *GitHub) readme(ctx context.Context, full string) (string, error) {
	req, err := g.request(ctx, "/repos/"+full+"/readme")
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.raw")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("readme status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(quality.Clean(string(raw))), " ")
	return truncate(text, 800), nil
}

// ParseRepo normalises "owner/repo", "github.com/owner/repo" or a full URL
// to "owner/repo".
func ParseRepo(item string) (string, error) {
	s := strings.TrimSpace(item)
	s = strings.TrimSuffix(s, ".git")
	for _, p := range []string{"https://", "http://", "www.", "github.com/"} {
		s = strings.TrimPrefix(s, p)
	}
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("not a repository: %q", item)
	}
	return parts[0] + "/" + parts[1], nil
}

func (g *GitHub) request(ctx context.Context, path string) (*http.Request, error) {
	req, err := newRequest(ctx, g.baseURL+path)
	if err != nil {
		return nil, fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	return req, nil
}

func (g *GitHub) getJSON(ctx context.Context, path string, out any) error {
	req, err := g.request(ctx, path)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("github API status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

type ghSearchResult struct {
	TotalCount int      `json:"total_count"`
	Items      []ghRepo `json:"items"`
}

type ghRepo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	HTMLURL     string    `json:"html_url"`
	Description string    `json:"description"`
	Stars       int       `json:"stargazers_count"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	CreatedAt   time.Time `json:"created_at"`
}
