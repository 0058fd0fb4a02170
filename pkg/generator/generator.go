package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrPermanent marks failures that retrying cannot fix, such as a rejected
// API key or a malformed request.
var ErrPermanent = errors.New("permanent generator failure")

// Request is the context handed to a generator for one candidate.
type Request struct {
	Topic    string
	Kind     string
	Metadata map[string]string

	// VaryAngle is set when the previous candidate duplicated recent history.
	// It summarises what to move away from.
	VaryAngle string
	// Strengthen asks for a candidate that hits the quality signals harder.
	Strengthen       bool
	RequiredKeywords []string
	Feedback         []string
	Attempt          int
}

// Draft is one generated candidate.
type Draft struct {
	Title    string
	Body     string
	Keywords []string
	Hashtags []string
	// Score is the generator's own 0-100 assessment, nil when it has none.
	Score *float64
}

// Generator produces candidate posts.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Draft, error)
}

// StatusError is a non-2xx reply from a generation API.
type StatusError struct {
	Provider   string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Detail)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unwrap lets errors.Is match ErrPermanent for client errors.
func (e *StatusError) Unwrap() error {
	if e.Temporary() {
		return nil
	}
	return ErrPermanent
}

// Retryable reports whether err is a transient failure. Cancellation of the
// caller's context is handled by the caller, not here.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent) && !errors.Is(err, context.Canceled)
}

const maxTagsOut = 6

var (
	hashtagRe = regexp.MustCompile(`#\w+`)
	titleTrim = regexp.MustCompile(`^[#*\s]+`)
	tagLineRe = regexp.MustCompile(`^\s*(#\w+\s*)+$`)
)

type draftJSON struct {
	Title        string   `json:"title"`
	Post         string   `json:"post"`
	Keywords     []string `json:"keywords"`
	Hashtags     []string `json:"hashtags"`
	QualityScore *float64 `json:"quality_score"`
}

// ParseDraft turns a raw model reply into a Draft. JSON replies (optionally
// fenced) are preferred; anything else is treated as the post text itself.
func ParseDraft(raw string) (*Draft, error) {
	raw = stripFences(strings.TrimSpace(raw))
	if raw == "" {
		return nil, errors.New("empty reply")
	}

	if strings.HasPrefix(raw, "{") {
		var dj draftJSON
		if err := json.Unmarshal([]byte(raw), &dj); err == nil && strings.TrimSpace(dj.Post) != "" {
			d := &Draft{
				Title:    strings.TrimSpace(dj.Title),
				Body:     strings.TrimSpace(dj.Post),
				Keywords: dj.Keywords,
				Hashtags: dedupeTags(append(dj.Hashtags, hashtagRe.FindAllString(dj.Post, -1)...)),
				Score:    dj.QualityScore,
			}
			if d.Title == "" {
				d.Title = firstLine(d.Body)
			}
			d.Body = withHashtags(d.Body, d.Hashtags)
			return d, nil
		}
	}

	d := &Draft{
		Title:    firstLine(raw),
		Body:     raw,
		Hashtags: dedupeTags(hashtagRe.FindAllString(raw, -1)),
	}
	return d, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s[3:], "\n"); idx >= 0 {
		s = s[3+idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstLine(text string) string {
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(strings.TrimSpace(titleTrim.ReplaceAllString(l, "")), "* ")
		if l != "" && !tagLineRe.MatchString(l) {
			return truncate(l, 120)
		}
	}
	return "Update"
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == maxTagsOut {
			break
		}
	}
	return out
}

// withHashtags appends the tags as a final line unless the body already
// carries them.
func withHashtags(body string, tags []string) string {
	if len(tags) == 0 {
		return body
	}
	lower := strings.ToLower(body)
	var missing []string
	for _, t := range tags {
		if !strings.Contains(lower, strings.ToLower(t)) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return body
	}
	return strings.TrimRight(body, "\n ") + "\n\n" + strings.Join(missing, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
