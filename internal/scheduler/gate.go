package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/elonfeng/postagent/internal/config"
)

// NextEligibleKey is the state key holding the next time a post may go out.
const NextEligibleKey = "scheduler.next_eligible"

// StateStore is the subset of the store the gate needs.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

// Gate decides whether a post may be published now and pushes the posting
// window forward after each publication.
type Gate struct {
	state     StateStore
	loc       *time.Location
	startHour int
	startMin  int
	increment time.Duration

	cutover    bool
	cutoffHour int
	cutoffMin  int

	now func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate from the posting configuration.
func NewGate(state StateStore, cfg config.PostingConfig, opts ...GateOption) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: posting.timezone %q: %v", config.ErrInvalid, cfg.Timezone, err)
	}
	sh, sm, err := config.ParseClock(cfg.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: posting.startTime: %v", config.ErrInvalid, err)
	}
	if cfg.TimeIncrementMinutes <= 0 {
		return nil, fmt.Errorf("%w: posting.timeIncrementMinutes must be positive", config.ErrInvalid)
	}

	g := &Gate{
		state:     state,
		loc:       loc,
		startHour: sh,
		startMin:  sm,
		increment: cfg.Increment(),
		cutover:   cfg.DailyCutoverEnabled,
		now:       time.Now,
	}
	if g.cutover {
		g.cutoffHour, g.cutoffMin, err = config.ParseClock(cfg.DailyCutoff)
		if err != nil {
			return nil, fmt.Errorf("%w: posting.dailyCutoff: %v", config.ErrInvalid, err)
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Next returns the persisted next eligible time. ok is false when none has
// been recorded yet.
func (g *Gate) Next(ctx context.Context) (next time.Time, ok bool, err error) {
	raw, ok, err := g.state.GetState(ctx, NextEligibleKey)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	next, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s %q: %w", NextEligibleKey, raw, err)
	}
	return next.In(g.loc), true, nil
}

// ShouldPostNow reports whether now is at or past the next eligible time.
// force bypasses the check; a missing state means eligible.
func (g *Gate) ShouldPostNow(ctx context.Context, force bool) (bool, error) {
	if force {
		return true, nil
	}
	next, ok, err := g.Next(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !g.now().Before(next), nil
}

// Advance computes max(previous or today's start, now) + increment, applies
// the daily cutover when enabled, persists and returns the result.
func (g *Gate) Advance(ctx context.Context) (time.Time, error) {
	now := g.now().In(g.loc)

	base, ok, err := g.Next(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		base = g.startOn(now)
	}
	if now.After(base) {
		base = now
	}

	next := base.Add(g.increment)
	if g.cutover {
		cutoff := time.Date(next.Year(), next.Month(), next.Day(), g.cutoffHour, g.cutoffMin, 0, 0, g.loc)
		if !next.Before(cutoff) {
			next = g.startOn(next.AddDate(0, 0, 1))
		}
	}
	next = next.Truncate(time.Second)
	if !next.After(base) {
		next = base.Truncate(time.Second).Add(time.Second)
	}

	if err := g.state.SetState(ctx, NextEligibleKey, next.Format(time.RFC3339)); err != nil {
		return time.Time{}, fmt.Errorf("persist next eligible time: %w", err)
	}
	return next, nil
}

// startOn returns the configured start time on t's calendar day.
func (g *Gate) startOn(t time.Time) time.Time {
	t = t.In(g.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), g.startHour, g.startMin, 0, 0, g.loc)
}
