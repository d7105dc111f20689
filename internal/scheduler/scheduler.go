package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nexlead/leadflow/pkg/schema"
)

// FlowRunner is the interface the scheduler uses to run flows.
// Satisfied by the executor (avoids import cycle).
type FlowRunner interface {
	RunFlow(ctx context.Context, flow *schema.FlowDefinition, input map[string]any) error
}

// Job is one scheduled flow run.
type Job struct {
	ID             string
	Name           string
	CronExpression string
	Flow           *schema.FlowDefinition
	Input          map[string]any
	Enabled        bool

	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}

// Scheduler runs registered flow jobs on their cron schedule.
type Scheduler struct {
	runner   FlowRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the 60s polling interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// NewScheduler creates a new Scheduler.
func NewScheduler(runner FlowRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a flow to run on a cron schedule and returns the job ID.
func (s *Scheduler) AddJob(name, cronExpr string, flow *schema.FlowDefinition, input map[string]any) (string, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if flow == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "scheduled job has no flow definition")
	}

	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		CronExpression: cronExpr,
		Flow:           flow,
		Input:          input,
		Enabled:        true,
		NextRunAt:      &next,
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()
	return job.ID, nil
}

// RemoveJob deletes a job.
func (s *Scheduler) RemoveJob(jobID string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// SetEnabled toggles a job without removing it.
func (s *Scheduler) SetEnabled(jobID string, enabled bool) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", jobID)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of all registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled jobs and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	s.jobsMu.RLock()
	due := make([]*Job, 0, len(s.jobs))
	now := time.Now().UTC()
	for _, job := range s.jobs {
		if job.Enabled && (job.NextRunAt == nil || !job.NextRunAt.After(now)) {
			due = append(due, job)
		}
	}
	s.jobsMu.RUnlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled flow",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
	)

	err := s.runner.RunFlow(ctx, job.Flow, job.Input)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled flow execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	next, nerr := s.CalculateNextRun(job.CronExpression, now)
	if nerr != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, nerr)
	}

	s.jobsMu.Lock()
	job.LastRunAt = &now
	job.NextRunAt = &next
	job.LastRunStatus = status
	s.jobsMu.Unlock()
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
