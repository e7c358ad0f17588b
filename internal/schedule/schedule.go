// Package schedule runs periodic jobs one at a time in a single goroutine,
// so a slow run delays the next job instead of overlapping it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrNoJobs is returned by New when no jobs are given.
var ErrNoJobs = errors.New("schedule: no jobs")

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error
}

// Status reports the last execution of a job.
type Status struct {
	Name         string
	Runs         int64
	LastStartAt  time.Time
	LastEndAt    time.Time
	LastDuration time.Duration
	LastError    string
}

// Loop executes jobs sequentially. Every job runs once at start, in
// registration order, then again whenever its interval elapses. Missed
// ticks are skipped.
type Loop struct {
	jobs   []Job
	logger *log.Logger
	now    func() time.Time

	mu     sync.Mutex
	status []Status
}

// New validates jobs and returns a Loop.
func New(logger *log.Logger, jobs ...Job) (*Loop, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	seen := make(map[string]bool)
	status := make([]Status, len(jobs))
	for i, j := range jobs {
		switch {
		case j.Name == "":
			return nil, errors.New("schedule: job name is required")
		case seen[j.Name]:
			return nil, fmt.Errorf("schedule: duplicate job %q", j.Name)
		case j.Interval <= 0:
			return nil, fmt.Errorf("schedule: job %q interval must be greater than zero", j.Name)
		case j.Run == nil:
			return nil, fmt.Errorf("schedule: job %q has no run callback", j.Name)
		}
		seen[j.Name] = true
		status[i] = Status{Name: j.Name}
	}
	return &Loop{jobs: jobs, logger: logger.WithPrefix("schedule"), now: time.Now, status: status}, nil
}

// Run blocks until ctx is done. Job errors are logged and recorded.
func (l *Loop) Run(ctx context.Context) error {
	next := make([]time.Time, len(l.jobs))
	for i := range l.jobs {
		if ctx.Err() != nil {
			return nil
		}
		l.exec(ctx, i)
		next[i] = l.now().Add(l.jobs[i].Interval)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		i := earliest(next)
		timer.Reset(max(next[i].Sub(l.now()), 0))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		l.exec(ctx, i)
		due := next[i].Add(l.jobs[i].Interval)
		for now := l.now(); !due.After(now); {
			due = due.Add(l.jobs[i].Interval)
		}
		next[i] = due
	}
}

// Snapshot returns the status of every job in registration order.
func (l *Loop) Snapshot() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.status...)
}

func (l *Loop) exec(ctx context.Context, i int) {
	job := l.jobs[i]
	start := l.now()
	l.logger.Debug("job started", "job", job.Name)

	err := job.Run(ctx)
	end := l.now()

	l.mu.Lock()
	st := &l.status[i]
	st.Runs++
	st.LastStartAt = start
	st.LastEndAt = end
	st.LastDuration = end.Sub(start)
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("job failed", "job", job.Name, "error", err)
		return
	}
	l.logger.Debug("job finished", "job", job.Name, "duration", end.Sub(start).Round(time.Millisecond))
}

func earliest(ts []time.Time) int {
	best := 0
	for i := range ts {
		if ts[i].Before(ts[best]) {
			best = i
		}
	}
	return best
}
