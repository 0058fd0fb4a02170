package generator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/elonfeng/postagent/pkg/quality"
)

// Each template takes the topic and a one-line detail.
var templates = []string{
	`Most teams I talk to underestimate how much %[1]s changes the way they plan their work.

%[2]s
The hard part is rarely the model itself.
It is the data, the feedback loop and the habit of shipping small, measurable improvements every week.

My rule of thumb: start with one narrow workflow and instrument it properly.
Only widen the scope once the numbers hold up for a month.

What is the first workflow you would hand over to %[1]s if you had to pick one today?`,

	`A year ago I would have called %[1]s a research curiosity.
Today it shows up in almost every serious roadmap review I sit in.

%[2]s
What changed is not one breakthrough but a steady stream of tooling that makes experiments cheap.

The teams getting value write down what they expect before they run anything, then check honestly afterwards.

Where do you see %[1]s delivering real results first in your own organisation?`,

	`Here is an uncomfortable lesson from working with %[1]s over the last few months.

%[2]s
Demos are easy. Reliability is not.
Every production rollout I have seen needed boring work on evaluation, monitoring and clear ownership.

If you are starting now, budget as much time for measuring as for building.
Share what you learn with the people who will live with the system.

What surprised you most when moving %[1]s from prototype to production?`,

	`Three things I keep relearning about %[1]s.

%[2]s
First, small curated datasets beat large messy ones more often than people expect.
Second, a simple baseline tells you more than a clever architecture.
Third, the people closest to the problem usually know which metric actually matters.

None of this is glamorous, but it separates pilots that stall from systems that keep improving.

Which of these lessons matches your own experience, and what would you add?`,
}

// Template is an offline generator that fills rotating post templates. It is
// used when no LLM provider is configured.
type Template struct {
	broad []string
	niche []string
	next  atomic.Uint32
}

// NewTemplate creates a template generator using the given hashtag banks.
func NewTemplate(broad, niche []string) *Template {
	return &Template{broad: broad, niche: niche}
}

func (t *Template) Name() string { return "template" }

// Generate fills the next template. Regeneration requests advance the
// rotation so a retry never repeats the previous text.
func (t *Template) Generate(ctx context.Context, req Request) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("template: %w: empty topic", ErrPermanent)
	}

	idx := int(t.next.Add(1)-1) % len(templates)
	detail := req.Metadata["description"]
	if detail == "" {
		detail = fmt.Sprintf("I have been digging into %s for a while now.", topic)
	} else if !strings.HasSuffix(detail, ".") {
		detail += "."
	}

	body := fmt.Sprintf(templates[idx], topic, detail)

	keywords := quality.ExtractKeywords([]string{topic, detail}, 5)
	keywords = append(keywords, req.RequiredKeywords...)
	tags := quality.MapHashtags(keywords, t.broad, t.niche, 5)

	return &Draft{
		Title:    topic,
		Body:     withHashtags(body, tags),
		Keywords: keywords,
		Hashtags: tags,
	}, nil
}
