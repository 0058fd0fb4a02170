package publish

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/elonfeng/postagent/internal/store"
)

// Result describes where a post ended up.
type Result struct {
	ID     string `json:"id,omitempty"`
	URL    string `json:"url,omitempty"`
	DryRun bool   `json:"-"`
}

// Publisher delivers an accepted post to its destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, p *store.Post) (Result, error)
}

// DryRun prints posts instead of publishing them.
type DryRun struct {
	w io.Writer
}

// NewDryRun creates a publisher that writes to w.
func NewDryRun(w io.Writer) *DryRun {
	return &DryRun{w: w}
}

func (d *DryRun) Name() string { return "dry-run" }

func (d *DryRun) Publish(_ context.Context, p *store.Post) (Result, error) {
	rule := strings.Repeat("-", 60)
	_, err := fmt.Fprintf(d.w, "%s\n%s  (score %d, topic %q)\n%s\n%s\n%s\n",
		rule, p.Title, p.Score, p.Topic, rule, p.Body, rule)
	if err != nil {
		return Result{}, fmt.Errorf("write dry run: %w", err)
	}
	return Result{ID: p.ContentHash, DryRun: true}, nil
}
