package quality

import (
	"regexp"
	"strings"
)

var (
	boldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	italicRe  = regexp.MustCompile(`\*([^*\s][^*]*)\*`)
	headerRe  = regexp.MustCompile(`(?m)^#+\s+`)
	fenceRe   = regexp.MustCompile("(?m)^\\s*(```|~~~).*$")
	bulletRe  = regexp.MustCompile(`(?m)^(\s*)[-*]\s+`)
	noiseRe   = regexp.MustCompile(`(?i)suggested\s+visual|character\s*count|for\s+tool\s+relevance`)
	labelWord = `(Hook|Context/Story|Context|Story|Insights/Value|Insights?|Value|CTA|Call to Action)`
	labelOnly = regexp.MustCompile(`(?i)^\s*(\*\*)?(\d+\)\s*)?` + labelWord + `\s*(\*\*)?\s*:?\s*(\*\*)?\s*$`)
	labelPfx  = regexp.MustCompile(`(?i)^\s*(\*\*)?(\d+\)\s*)?` + labelWord + `\s*(\*\*)?\s*(:|\s[-–—])\s*(\*\*)?\s*`)
)

// Clean removes markdown emphasis, headers and code fences, converts markdown
// bullets to plain bullets, drops structural labels and generator notes such
// as "Suggested visual", and collapses runs of blank lines.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = boldRe.ReplaceAllString(text, "$1$2")
	text = italicRe.ReplaceAllString(text, "$1")
	text = headerRe.ReplaceAllString(text, "")
	text = fenceRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "$1• ")

	var out []string
	prevBlank := false
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if noiseRe.MatchString(line) || labelOnly.MatchString(line) {
			continue
		}
		line = labelPfx.ReplaceAllString(line, "")
		blank := line == ""
		if blank && prevBlank {
			continue
		}
		out = append(out, line)
		prevBlank = blank
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Artifacts lists formatting leftovers found in text. Empty means clean.
func Artifacts(text string) []string {
	var found []string
	for _, sym := range []string{"**", "__", "```", "~~~"} {
		if strings.Contains(text, sym) {
			found = append(found, "formatting symbol "+sym)
		}
	}
	if headerRe.MatchString(text) {
		found = append(found, "markdown header")
	}
	if bulletRe.MatchString(text) {
		found = append(found, "markdown bullet")
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if labelPfx.MatchString(line) || labelOnly.MatchString(line) {
			found = append(found, "structural label in "+quoteShort(line))
		}
		if noiseRe.MatchString(line) {
			found = append(found, "generator note in "+quoteShort(line))
		}
	}
	return found
}

func quoteShort(s string) string {
	r := []rune(s)
	if len(r) > 24 {
		s = string(r[:24]) + "..."
	}
	return `"` + s + `"`
}
