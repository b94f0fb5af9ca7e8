// Package scheduler runs scan jobs on cron schedules. Jobs do not overlap:
// a run that is still in progress when the next tick fires is skipped.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
)

// JobFunc is the work executed on every tick. The context is canceled when
// the scheduler stops.
type JobFunc func(ctx context.Context)

// ScheduledJob describes a registered job.
type ScheduledJob struct {
	ID       uuid.UUID
	Name     string
	Schedule string
	CronID   cron.EntryID
	LastRun  time.Time
	NextRun  time.Time
	Running  bool
}

// Scheduler manages scheduled scan jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ParseSchedule validates a standard five field cron expression or a
// descriptor such as "@hourly" or "@every 10m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		e := errors.NewConfigFieldError(errors.CodeConfiguration, "invalid cron expression", "schedule", expr)
		e.Cause = err
		return nil, e
	}
	return schedule, nil
}

// AddJob registers fn under the given schedule.
func (s *Scheduler) AddJob(name, expr string, fn JobFunc) (*ScheduledJob, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		Schedule: expr,
		NextRun:  schedule.Next(time.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job.CronID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(job, fn) }))
	s.jobs[job.ID] = job

	s.logger.Info("scheduled job added", "job", name, "schedule", expr, "next_run", job.NextRun)
	return job, nil
}

func (s *Scheduler) execute(job *ScheduledJob, fn JobFunc) {
	s.mu.Lock()
	job.Running = true
	job.LastRun = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		job.Running = false
		job.NextRun = s.cron.Entry(job.CronID).Next
		s.mu.Unlock()
	}()

	s.logger.Debug("running scheduled job", "job", job.Name)
	fn(s.ctx)
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, id)

	s.logger.Info("scheduled job removed", "job", job.Name)
	return nil
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops dispatching, cancels running jobs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
