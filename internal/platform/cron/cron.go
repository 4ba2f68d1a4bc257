// Package cron runs the periodic maintenance jobs: overdue-wait alerts and
// read-notification purges.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled task. Schedule uses six fields, seconds first.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Runner struct {
	c      *cron.Cron
	logger zerolog.Logger
}

func New(logger zerolog.Logger, loc *time.Location) *Runner {
	l := logger.With().Str("component", "cron").Logger()
	adapter := zerologAdapter{l}
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		c: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		logger: l,
	}
}

// Add registers job. An empty schedule disables it.
func (r *Runner) Add(job Job) error {
	if job.Schedule == "" {
		r.logger.Info().Str("job", job.Name).Msg("job disabled")
		return nil
	}
	if _, err := r.c.AddFunc(job.Schedule, func() { r.run(job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	return nil
}

func (r *Runner) run(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		r.logger.Error().Err(err).Str("job", job.Name).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	r.logger.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job finished")
}

func (r *Runner) Start() {
	r.c.Start()
}

// Stop prevents new runs and waits for running jobs or ctx expiry.
func (r *Runner) Stop(ctx context.Context) error {
	select {
	case <-r.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type zerologAdapter struct {
	l zerolog.Logger
}

func (a zerologAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (a zerologAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
