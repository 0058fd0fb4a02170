package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job publishes one post. It is only invoked when the gate allows.
type Job func(ctx context.Context) error

// Daemon runs a cron schedule that checks the gate on every tick and runs the
// job when a post is due. Ticks never overlap.
type Daemon struct {
	cron    *cron.Cron
	gate    *Gate
	job     Job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	ticks  int
	lastAt time.Time
}

// NewDaemon creates a daemon firing on the given cron spec in loc.
func NewDaemon(gate *Gate, spec string, loc *time.Location, timeout time.Duration, job Job, logger *slog.Logger) (*Daemon, error) {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon")

	d := &Daemon{
		gate:    gate,
		job:     job,
		timeout: timeout,
		logger:  logger,
		ctx:     context.Background(),
	}

	cl := cronLogger{logger}
	d.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := d.cron.AddFunc(spec, d.fire); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return d, nil
}

// Run starts the schedule and blocks until ctx is cancelled. A tick is run
// immediately on start. Running jobs are waited for before returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	d.logger.Info("daemon started", "next", d.NextRun())
	d.fire()

	d.cron.Start()
	<-ctx.Done()
	<-d.cron.Stop().Done()

	d.logger.Info("daemon stopped")
	return ctx.Err()
}

// Tick checks the gate and runs the job if a post is due. ran reports whether
// the job was invoked.
func (d *Daemon) Tick(ctx context.Context) (ran bool, err error) {
	due, err := d.gate.ShouldPostNow(ctx, false)
	if err != nil {
		return false, fmt.Errorf("check gate: %w", err)
	}
	if !due {
		next, _, _ := d.gate.Next(ctx)
		d.logger.Debug("not due", "next_eligible", next)
		return false, nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err = d.job(jobCtx)

	d.mu.Lock()
	d.ticks++
	d.lastAt = start
	d.mu.Unlock()

	if err != nil {
		return true, err
	}
	d.logger.Info("job completed", "elapsed", time.Since(start))
	return true, nil
}

// NextRun returns the next scheduled tick.
func (d *Daemon) NextRun() time.Time {
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stats returns the number of job invocations and when the last one started.
func (d *Daemon) Stats() (runs int, last time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks, d.lastAt
}

func (d *Daemon) fire() {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := d.Tick(ctx); err != nil {
		d.logger.Error("tick failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	inner *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.inner.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
