package pipeline

import (
	"errors"

	"github.com/elonfeng/postagent/internal/store"
	"github.com/elonfeng/postagent/pkg/quality"
	"github.com/elonfeng/postagent/pkg/topic"
)

// Failure kinds. Outcome.Err wraps exactly one of these.
var (
	ErrTransient          = errors.New("transient external failure")
	ErrDuplicateExhausted = errors.New("duplicate attempts exhausted")
	ErrQualityExhausted   = errors.New("quality attempts exhausted")
	ErrStorage            = errors.New("storage failure")
)

// Status is the tag callers switch on.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// State is a step of the regeneration state machine.
type State string

const (
	StateSelecting    State = "selecting"
	StateGenerating   State = "generating"
	StateDedupCheck   State = "dedup_check"
	StateQualityCheck State = "quality_check"
	StateAccepted     State = "accepted"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Outcome is the result of one run.
type Outcome struct {
	Status Status
	// Post is set only when Status is accepted.
	Post *store.Post
	// Warning is set when a post was accepted despite exhausting a bound.
	// Err then carries the reason.
	Warning bool
	Err     error

	Selection  topic.Selection
	Quality    quality.Result
	Similarity float64
	// Candidates is the number of drafts produced; GeneratorCalls includes
	// transient retries.
	Candidates     int
	GeneratorCalls int
	Trace          []State
	// Resumed is set when Post was accepted by an earlier run whose
	// publication failed.
	Resumed bool
}

// Resume wraps a saved but unpublished post so it can be published again
// without generating a new one.
func Resume(p *store.Post) Outcome {
	return Outcome{
		Status: StatusAccepted,
		Post:   p,
		Selection: topic.Selection{
			Topic:    p.Topic,
			Kind:     topic.Kind(p.Source),
			Priority: topic.Kind(p.Source).Priority(),
		},
		Trace:   []State{StateAccepted},
		Resumed: true,
	}
}

// Kind names the failure sentinel in Err for logs and metrics, or "" for none.
func (o Outcome) Kind() string {
	switch {
	case o.Status == StatusCancelled:
		return "cancelled"
	case o.Err == nil:
		return ""
	case errors.Is(o.Err, ErrTransient):
		return "transient"
	case errors.Is(o.Err, ErrDuplicateExhausted):
		return "duplicate_exhausted"
	case errors.Is(o.Err, ErrQualityExhausted):
		return "quality_exhausted"
	case errors.Is(o.Err, ErrStorage):
		return "storage"
	default:
		return "other"
	}
}
