package generator

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = "You write concise, credible LinkedIn posts for practitioners in AI and software."

const constraints = `Constraints:
- 120-200 words, under 1300 characters.
- First person, conversational and specific. No hype.
- Short paragraphs of one or two sentences separated by blank lines.
- Plain text only: no markdown, no bold, no headers, no section labels such as "Hook:" or "CTA:".
- End with a question that invites discussion, then 3-5 unique hashtags on the last line.
- Work the key terms in naturally.`

const replyFormat = `Reply with a single JSON object and nothing else:
{"title": "...", "post": "...", "keywords": ["..."], "hashtags": ["#..."], "quality_score": 0-100}
"quality_score" is your honest estimate of how engaging and polished the post is.`

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request) string {
	var b strings.Builder

	if name := req.Metadata["name"]; name != "" && req.Kind == "queue" {
		b.WriteString("You just shipped a project and want to share what you learned building it.\n\n")
		fmt.Fprintf(&b, "Project: %s\n", name)
		for _, k := range sortedKeys(req.Metadata) {
			if k == "name" || k == "item" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(k[:1])+k[1:], truncate(req.Metadata[k], 600))
		}
		b.WriteString("\nExplain the problem, your approach and one technical insight, then invite readers to try it.\n\n")
	} else {
		fmt.Fprintf(&b, "Write a LinkedIn post about %s. Focus on an emerging trend, a new use case or a recent breakthrough.\n\n", req.Topic)
	}

	b.WriteString(constraints)
	b.WriteString("\n")

	if req.VaryAngle != "" {
		fmt.Fprintf(&b, "\nA previous draft was too close to something already published. Take a clearly different angle and opening. Avoid: %s\n", req.VaryAngle)
	}
	if req.Strengthen {
		b.WriteString("\nThe previous draft scored too low. Make the hook sharper, keep sentences between 12 and 20 words, and end with a direct question.\n")
		if len(req.RequiredKeywords) > 0 {
			fmt.Fprintf(&b, "Use each of these terms at least once: %s.\n", strings.Join(req.RequiredKeywords, ", "))
		}
	}
	if len(req.Feedback) > 0 {
		b.WriteString("\nFix these problems:\n")
		for _, f := range req.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("\n")
	b.WriteString(replyFormat)
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if k != "" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
