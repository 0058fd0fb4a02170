package quality

import (
	"fmt"
	"strings"
)

// Validate lists human-readable problems with a post. It does not affect the
// score beyond cleanliness; callers use it for reporting.
func Validate(text string, hashtags []string) []string {
	var issues []string

	words := len(strings.Fields(text))
	switch {
	case words < 50:
		issues = append(issues, fmt.Sprintf("too short: %d words (minimum 50)", words))
	case words > 300:
		issues = append(issues, fmt.Sprintf("too long: %d words (maximum 300)", words))
	}
	if n := len([]rune(text)); n > 1300 {
		issues = append(issues, fmt.Sprintf("exceeds character limit: %d (maximum 1300)", n))
	}

	switch c := len(hashtags); {
	case c < 3:
		issues = append(issues, fmt.Sprintf("too few hashtags: %d (minimum 3)", c))
	case c > 6:
		issues = append(issues, fmt.Sprintf("too many hashtags: %d (maximum 6)", c))
	}
	seen := make(map[string]bool)
	for _, t := range hashtags {
		if !strings.HasPrefix(t, "#") || len(t) <= 2 {
			issues = append(issues, fmt.Sprintf("invalid hashtag %q", t))
			continue
		}
		if seen[strings.ToLower(t)] {
			issues = append(issues, fmt.Sprintf("duplicate hashtag %s", t))
		}
		seen[strings.ToLower(t)] = true
	}

	if !strings.Contains(text, "?") {
		issues = append(issues, "no question to invite engagement")
	}
	for _, l := range strings.Split(text, "\n") {
		if n := len([]rune(strings.TrimSpace(l))); n > 150 {
			issues = append(issues, fmt.Sprintf("long line (%d chars) hurts scannability", n))
			break
		}
	}
	for _, a := range Artifacts(text) {
		issues = append(issues, "contains "+a)
	}
	return issues
}
