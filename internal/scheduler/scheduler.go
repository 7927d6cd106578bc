// Package scheduler runs recurring chatbot jobs on cron expressions.
//
// The only job today is the daily update broadcast to subscribed identities.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single scheduled run.
const DefaultJobTimeout = 10 * time.Minute

// parser is the standard 5-field cron parser (min, hour, dom, month, dow).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DailyUpdater sends the daily update and reports how many identities received it.
type DailyUpdater interface {
	SendDailyUpdates(ctx context.Context) (int, error)
}

// Opts holds configuration options for the scheduler.
type Opts struct {
	Location   *time.Location
	JobTimeout time.Duration
}

// Option defines a configuration option for the scheduler.
type Option func(*Opts)

// WithLocation evaluates cron expressions in loc instead of the local time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithJobTimeout overrides DefaultJobTimeout.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Opts) { o.JobTimeout = d }
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron       *cron.Cron
	jobTimeout time.Duration
}

// NewScheduler creates a scheduler. Jobs do not fire until Run is called.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := Opts{Location: time.Local, JobTimeout: DefaultJobTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, jobTimeout: cfg.JobTimeout}
}

// Validate reports whether expr is a valid cron expression.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddDailyUpdate schedules u on expr. Each run gets a fresh context derived from ctx
// and bounded by the job timeout.
func (s *Scheduler) AddDailyUpdate(ctx context.Context, expr string, u DailyUpdater) error {
	if err := Validate(expr); err != nil {
		return err
	}
	return s.AddJob(expr, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
		start := time.Now()
		sent, err := u.SendDailyUpdates(runCtx)
		if err != nil {
			slog.Error("Scheduler.dailyUpdate: run finished with errors", "sent", sent, "error", err, "duration", time.Since(start))
			return
		}
		slog.Info("Scheduler.dailyUpdate: run finished", "sent", sent, "duration", time.Since(start))
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", s.Len())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
	return nil
}
