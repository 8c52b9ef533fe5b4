// Package scheduler wraps gocron/v2 for the small set of recurring jobs
// the Gateway needs (currently only the Auth Manager token refresh),
// extracted from the teacher's orchestrator-private cron
// scheduler and generalised to fixed-interval jobs.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tagbridge/internal/logging"
)

// JobInfo describes a registered job for external inspection (e.g. the
// Control API).
type JobInfo struct {
	ID       string
	Name     string
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
}

// Scheduler runs named, fixed-interval jobs.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	intervals map[string]time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. Call Start to begin executing registered jobs.
func New(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		intervals: make(map[string]time.Duration),
		logger:    logging.Default(logger).With("component", "scheduler"),
	}, nil
}

// AddJob registers a named job that runs every interval; the first run
// comes one interval after the scheduler is started. The name must be
// unique.
func (s *Scheduler) AddJob(name string, interval time.Duration, taskFn any, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job already exists: %s", name)
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(taskFn, args...),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("scheduler: create job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.intervals[name] = interval
	s.logger.Info("job added", "name", name, "interval", interval)
	return nil
}

// RemoveJob stops and removes a named job. No-op if the job doesn't exist.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("failed to remove job", "name", name, "error", err)
	}
	delete(s.jobs, name)
	delete(s.intervals, name)
}

// RunNow triggers an immediate out-of-band run of a named job, in
// addition to its regular schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: no such job: %s", name)
	}
	return j.RunNow()
}

// HasJob returns true if a job with the given name exists.
func (s *Scheduler) HasJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{ID: j.ID().String(), Name: name, Interval: s.intervals[name]}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
