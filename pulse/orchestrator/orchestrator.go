// Package orchestrator owns the job lifecycle: creation, updates, cancellation,
// and the execute-on-wake-up state machine with retries and recurrence.
//
// Persistence, dispatch and execution are injected through interfaces so
// alternate stores, substrates or executors can be swapped in without
// touching the lifecycle rules.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
	"github.com/teranos/pulsejobs/pulse/async"
	"github.com/teranos/pulsejobs/pulse/schedule"
	"github.com/teranos/vanity-id"
)

// JobStore persists jobs
type JobStore interface {
	Create(ctx context.Context, job *schedule.Job) error
	Get(ctx context.Context, id string) (*schedule.Job, error)
	FindByID(ctx context.Context, id, ownerID string) (*schedule.Job, error)
	FindAll(ctx context.Context, ownerID string, filter schedule.Filter, page, limit int) ([]*schedule.Job, int, error)
	Update(ctx context.Context, job *schedule.Job) error
	Transition(ctx context.Context, job *schedule.Job, from schedule.Status) (bool, error)
	Delete(ctx context.Context, id, ownerID string) error
	FindPending(ctx context.Context) ([]*schedule.Job, error)
	FindRunning(ctx context.Context) ([]*schedule.Job, error)
	FindRecurring(ctx context.Context) ([]*schedule.Job, error)
}

// ExecutionLog records one entry per attempt
type ExecutionLog interface {
	Append(ctx context.Context, exec *schedule.Execution) error
	Finalize(ctx context.Context, exec *schedule.Execution) error
	Open(ctx context.Context, jobID string) (*schedule.Execution, error)
	History(ctx context.Context, jobID string, limit int) ([]*schedule.Execution, error)
}

// Dispatcher arms wake-ups. *dispatch.Adapter satisfies it.
type Dispatcher interface {
	Arm(ctx context.Context, jobID string, at time.Time) error
	Disarm(ctx context.Context, jobID string) error
	Rearm(ctx context.Context, jobID string, at time.Time) error
}

// maxConflictRetries bounds reload-and-retry loops on conditional writes
const maxConflictRetries = 5

// Config holds the lifecycle policy
type Config struct {
	BaseDelay         time.Duration // First retry delay; 0 re-arms immediately
	MaxDelay          time.Duration // Cap on retry delay
	DefaultMaxRetries int           // Applied when a job spec leaves MaxRetries unset
	ExecutionTimeout  time.Duration // Per-attempt timeout when a job sets none; 0 = unbounded

	// A running attempt is presumed alive until StartedAt + its timeout +
	// RecoveryGrace. Attempts without a timeout use AttemptLease instead of
	// the timeout. Reconcile leaves live attempts alone.
	RecoveryGrace time.Duration
	AttemptLease  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseDelay:         5 * time.Second,
		MaxDelay:          5 * time.Minute,
		DefaultMaxRetries: schedule.DefaultMaxRetries,
		RecoveryGrace:     30 * time.Second,
		AttemptLease:      time.Hour,
	}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithMetrics records lifecycle metrics
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator drives jobs through their lifecycle
type Orchestrator struct {
	jobs       JobStore
	executions ExecutionLog
	dispatcher Dispatcher
	executor   async.Executor
	cfg        Config
	now        func() time.Time
	metrics    *Metrics
	logger     *zap.SugaredLogger
}

// New creates an orchestrator
func New(jobs JobStore, executions ExecutionLog, dispatcher Dispatcher, executor async.Executor, cfg Config, log *zap.SugaredLogger, opts ...Option) *Orchestrator {
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = schedule.DefaultMaxRetries
	}
	o := &Orchestrator{
		jobs:       jobs,
		executions: executions,
		dispatcher: dispatcher,
		executor:   async.WithTimeout(executor, cfg.ExecutionTimeout),
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.AddPulseSymbol(log.Named("orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateJob validates spec, persists a pending job and arms its first wake-up.
// If the wake-up cannot be armed the job is removed again and a dispatch error returned.
func (o *Orchestrator) CreateJob(ctx context.Context, ownerID string, spec schedule.Spec) (*schedule.Job, error) {
	maxRetries := o.cfg.DefaultMaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}

	now := o.now()
	job := &schedule.Job{
		OwnerID:           ownerID,
		Name:              spec.Name,
		Description:       spec.Description,
		Payload:           spec.Payload,
		Metadata:          spec.Metadata,
		Type:              spec.Type,
		RecurrencePattern: spec.RecurrencePattern,
		ScheduledAt:       spec.ScheduledAt,
		NextRunAt:         spec.ScheduledAt,
		IsActive:          true,
		Status:            schedule.StatusPending,
		MaxRetries:        maxRetries,
		TimeoutSeconds:    spec.TimeoutSeconds,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	jobID, err := id.GenerateJobASID(job.Name, string(job.Type), ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate job ID")
	}
	job.ID = jobID

	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := o.dispatcher.Arm(ctx, job.ID, job.NextRunAt); err != nil {
		o.metrics.dispatchError("arm")
		if delErr := o.jobs.Delete(ctx, job.ID, ownerID); delErr != nil {
			o.logger.Errorw("Failed to remove un-armed job",
				logger.FieldJobID, job.ID,
				logger.FieldError, delErr)
		}
		return nil, errors.WithDetailf(err, "job %s was not created", job.ID)
	}

	o.metrics.transition(schedule.StatusPending)
	o.logger.Infow("Job created",
		logger.FieldJobID, job.ID,
		logger.FieldOwnerID, ownerID,
		"type", job.Type,
		logger.FieldNextRunAt, job.NextRunAt)
	return job, nil
}

// GetJob returns an owner's job
func (o *Orchestrator) GetJob(ctx context.Context, jobID, ownerID string) (*schedule.Job, error) {
	return o.jobs.FindByID(ctx, jobID, ownerID)
}

// ListJobs returns a page of an owner's jobs and the total number matching filter
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID string, filter schedule.Filter, page, limit int) ([]*schedule.Job, int, error) {
	return o.jobs.FindAll(ctx, ownerID, filter, page, limit)
}

// UpdateJob applies patch to a non-terminal job.
// Changing ScheduledAt moves NextRunAt with it and re-arms a pending job.
func (o *Orchestrator) UpdateJob(ctx context.Context, jobID, ownerID string, patch schedule.Patch) (*schedule.Job, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		current, err := o.jobs.FindByID(ctx, jobID, ownerID)
		if err != nil {
			return nil, err
		}
		if current.Status.IsTerminal() {
			return nil, errors.WithDetailf(
				errors.NewInvalidStateError("cannot update job in %s status", current.Status),
				"job: %s", jobID)
		}

		updated := patch.Apply(current)
		rescheduled := !updated.ScheduledAt.Equal(current.ScheduledAt)
		if rescheduled {
			updated.NextRunAt = updated.ScheduledAt
		}
		if err := updated.Validate(); err != nil {
			return nil, err
		}
		updated.UpdatedAt = o.now()

		ok, err := o.jobs.Transition(ctx, updated, current.Status)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		// A running job is re-armed by the outcome of its attempt
		if rescheduled && updated.Status == schedule.StatusPending {
			if err := o.dispatcher.Rearm(ctx, jobID, updated.NextRunAt); err != nil {
				o.metrics.dispatchError("rearm")
				return nil, err
			}
		}

		o.logger.Infow("Job updated",
			logger.FieldJobID, jobID,
			"rescheduled", rescheduled,
			logger.FieldNextRunAt, updated.NextRunAt)
		return updated, nil
	}
	return nil, errors.Wrapf(errors.ErrConflict, "job %s kept changing during update", jobID)
}

// RescheduleJob moves a job's scheduled time and re-arms it
func (o *Orchestrator) RescheduleJob(ctx context.Context, jobID, ownerID string, at time.Time) (*schedule.Job, error) {
	return o.UpdateJob(ctx, jobID, ownerID, schedule.Patch{ScheduledAt: &at})
}

// CancelJob stops a job for good. An attempt already in flight runs to
// completion; its outcome is recorded in history but no longer changes the job.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID, ownerID string) (*schedule.Job, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		current, err := o.jobs.FindByID(ctx, jobID, ownerID)
		if err != nil {
			return nil, err
		}
		if current.Status == schedule.StatusCompleted || current.Status == schedule.StatusCancelled {
			return nil, errors.WithDetailf(
				errors.NewInvalidStateError("cannot cancel job in %s status", current.Status),
				"job: %s", jobID)
		}

		cancelled := current.Clone()
		cancelled.Status = schedule.StatusCancelled
		cancelled.IsActive = false
		cancelled.UpdatedAt = o.now()

		ok, err := o.jobs.Transition(ctx, cancelled, current.Status)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		// A wake-up that survives a failed disarm is a no-op on delivery
		if err := o.dispatcher.Disarm(ctx, jobID); err != nil {
			o.metrics.dispatchError("disarm")
			o.logger.Warnw("Failed to disarm cancelled job",
				logger.FieldJobID, jobID,
				logger.FieldError, err)
		}

		o.metrics.transition(schedule.StatusCancelled)
		o.logger.Infow("Job cancelled",
			logger.FieldJobID, jobID,
			"previous_status", current.Status)
		return cancelled, nil
	}
	return nil, errors.Wrapf(errors.ErrConflict, "job %s kept changing during cancel", jobID)
}

// DeleteJob disarms a job and removes it together with its execution history
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID, ownerID string) error {
	if _, err := o.jobs.FindByID(ctx, jobID, ownerID); err != nil {
		return err
	}
	if err := o.dispatcher.Disarm(ctx, jobID); err != nil {
		o.metrics.dispatchError("disarm")
		return err
	}
	if err := o.jobs.Delete(ctx, jobID, ownerID); err != nil {
		return err
	}
	o.logger.Infow("Job deleted", logger.FieldJobID, jobID)
	return nil
}

// GetExecutionHistory returns an owner's job attempts, most recent first
func (o *Orchestrator) GetExecutionHistory(ctx context.Context, jobID, ownerID string, limit int) ([]*schedule.Execution, error) {
	if _, err := o.jobs.FindByID(ctx, jobID, ownerID); err != nil {
		return nil, err
	}
	return o.executions.History(ctx, jobID, limit)
}
