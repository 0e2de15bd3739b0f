package orchestrator

import (
	"context"
	"time"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/internal/util"
	"github.com/teranos/pulsejobs/logger"
	"github.com/teranos/pulsejobs/pulse/async"
	"github.com/teranos/pulsejobs/pulse/schedule"
	"github.com/teranos/vanity-id"
)

// ExecuteJob runs one attempt of a job whose wake-up fired.
//
// Deliveries for jobs that are gone or not pending are ignored, so a wake-up
// delivered twice executes once. Execution failures are recorded on the job
// and in its history; nothing is returned to the substrate.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID string) {
	// Executors can pick the job up from ctx with logger.FromContext
	ctx = logger.WithJobID(ctx, jobID)
	log := logger.FromContext(ctx, o.logger)

	job, err := o.jobs.Get(ctx, jobID)
	if errors.IsNotFoundError(err) {
		log.Debugw("Wake-up for missing job ignored")
		return
	}
	if err != nil {
		log.Errorw("Failed to load job for execution", logger.FieldError, err)
		return
	}
	if job.Status != schedule.StatusPending || !job.IsActive {
		log.Debugw("Wake-up for job that is not pending ignored", logger.FieldStatus, job.Status)
		return
	}

	startedAt := o.now()
	if job.NextRunAt.After(startedAt) {
		// Stale wake-up from an earlier arm; put the current one back
		log.Debugw("Early wake-up ignored", logger.FieldNextRunAt, job.NextRunAt)
		if err := o.dispatcher.Arm(ctx, jobID, job.NextRunAt); err != nil {
			o.metrics.dispatchError("arm")
			log.Warnw("Failed to re-arm after early wake-up", logger.FieldError, err)
		}
		return
	}

	claimed := job.Clone()
	claimed.Status = schedule.StatusRunning
	claimed.StartedAt = &startedAt
	claimed.CompletedAt = nil
	claimed.UpdatedAt = startedAt

	ok, err := o.jobs.Transition(ctx, claimed, schedule.StatusPending)
	if err != nil {
		log.Errorw("Failed to start job", logger.FieldError, err)
		return
	}
	if !ok {
		log.Debugw("Job claimed by a concurrent delivery")
		return
	}
	o.metrics.transition(schedule.StatusRunning)

	exec := &schedule.Execution{
		ID:            id.GenerateExecutionID(),
		JobID:         jobID,
		AttemptNumber: job.RetryCount + 1,
		Outcome:       schedule.OutcomeFailed,
		StartedAt:     startedAt,
		CreatedAt:     startedAt,
	}
	log = log.With(logger.FieldExecutionID, exec.ID, logger.FieldAttempt, exec.AttemptNumber)

	var (
		result  schedule.Value
		execErr error
	)
	if err := o.executions.Append(ctx, exec); err != nil {
		log.Errorw("Failed to record execution start", logger.FieldError, err)
		exec = nil
		execErr = errors.Wrap(err, "failed to record execution")
	} else {
		log.Infow("Executing job")
		result, execErr = o.executor.Execute(ctx, claimed)
	}

	finishedAt := o.now()
	if exec != nil {
		o.finalize(ctx, exec, finishedAt, result, execErr)
	}
	o.metrics.execution(execErr == nil, finishedAt.Sub(startedAt))

	if execErr != nil {
		execErr = errors.WrapExecution(execErr)
		ec := async.ClassifyError(execErr)
		log.Warnw("Job execution failed",
			logger.FieldError, execErr.Error(),
			logger.FieldErrorCode, ec.Code,
			"retryable", ec.Retryable,
			logger.FieldDurationMS, finishedAt.Sub(startedAt).Milliseconds())
	} else {
		log.Infow("Job execution succeeded",
			logger.FieldDurationMS, finishedAt.Sub(startedAt).Milliseconds())
	}

	o.applyOutcome(ctx, jobID, startedAt, finishedAt, result, execErr)
}

// finalize writes the attempt's outcome to the execution log
func (o *Orchestrator) finalize(ctx context.Context, exec *schedule.Execution, finishedAt time.Time, result schedule.Value, execErr error) {
	exec.CompletedAt = &finishedAt
	exec.DurationMs = util.Ptr(int(finishedAt.Sub(exec.StartedAt).Milliseconds()))
	if execErr != nil {
		exec.Outcome = schedule.OutcomeFailed
		exec.ErrorMessage = util.Ptr(execErr.Error())
	} else {
		exec.Outcome = schedule.OutcomeSuccess
		exec.Result = &result
	}
	if err := o.executions.Finalize(ctx, exec); err != nil {
		o.logger.Errorw("Failed to finalize execution",
			logger.FieldJobID, exec.JobID,
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err)
	}
}

// applyOutcome moves a running job to its next state.
// The write is conditional on the job still running the attempt that began at
// startedAt, so a job cancelled or deleted mid-attempt is left alone, and an
// attempt already written off by reconcile cannot settle a newer one.
func (o *Orchestrator) applyOutcome(ctx context.Context, jobID string, startedAt, at time.Time, result schedule.Value, execErr error) {
	log := logger.FromContext(logger.WithJobID(ctx, jobID), o.logger)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		current, err := o.jobs.Get(ctx, jobID)
		if errors.IsNotFoundError(err) {
			log.Infow("Job deleted during execution, outcome not applied")
			return
		}
		if err != nil {
			log.Errorw("Failed to reload job after execution", logger.FieldError, err)
			return
		}
		if current.Status != schedule.StatusRunning {
			log.Infow("Job left running state during execution, outcome not applied", logger.FieldStatus, current.Status)
			return
		}
		if !sameAttempt(current, startedAt) {
			log.Warnw("Job is running a newer attempt, outcome not applied", "started_at", startedAt)
			return
		}

		next := o.nextState(current, at, result, execErr)
		ok, err := o.jobs.Transition(ctx, next, schedule.StatusRunning)
		if err != nil {
			log.Errorw("Failed to record execution outcome", logger.FieldError, err)
			return
		}
		if !ok {
			// Lost to a concurrent update while still running; reload and retry
			continue
		}

		o.metrics.transition(next.Status)
		if next.Status == schedule.StatusPending {
			o.armPending(ctx, next)
		} else {
			log.Infow("Job finished", logger.FieldStatus, next.Status, "retry_count", next.RetryCount)
		}
		return
	}
	log.Errorw("Gave up recording execution outcome after repeated conflicts")
}

// nextState computes the job after an attempt finishing at at
func (o *Orchestrator) nextState(current *schedule.Job, at time.Time, result schedule.Value, execErr error) *schedule.Job {
	next := current.Clone()
	next.UpdatedAt = at

	if execErr == nil {
		next.ErrorMessage = nil
		next.Result = &result
		if next.Type == schedule.TypeRecurring {
			next.Status = schedule.StatusPending
			next.RetryCount = 0
			next.NextRunAt = schedule.NextTime(at, next.Pattern())
			next.StartedAt = nil
			next.CompletedAt = nil
		} else {
			next.Status = schedule.StatusCompleted
			next.IsActive = false
			next.CompletedAt = &at
		}
		return next
	}

	next.ErrorMessage = util.Ptr(execErr.Error())
	// MaxRetries counts attempts after the first; the attempt made with
	// RetryCount == MaxRetries is the last one
	if next.RetryCount >= next.MaxRetries {
		next.Status = schedule.StatusFailed
		next.IsActive = false
		next.CompletedAt = &at
		return next
	}
	next.RetryCount++
	next.Status = schedule.StatusPending
	next.NextRunAt = at.Add(o.cfg.RetryDelay(next.RetryCount))
	return next
}

// armPending arms a job just returned to pending. If the job was cancelled
// between the write and the arm, the fresh wake-up is taken back.
func (o *Orchestrator) armPending(ctx context.Context, job *schedule.Job) {
	log := o.logger.With(logger.FieldJobID, job.ID)

	if err := o.dispatcher.Arm(ctx, job.ID, job.NextRunAt); err != nil {
		o.metrics.dispatchError("arm")
		log.Errorw("Failed to arm next wake-up; job is re-armed on next reconcile",
			logger.FieldNextRunAt, job.NextRunAt,
			logger.FieldError, err)
		return
	}
	log.Infow("Job re-armed",
		logger.FieldNextRunAt, job.NextRunAt,
		"retry_count", job.RetryCount)

	current, err := o.jobs.Get(ctx, job.ID)
	if err != nil && !errors.IsNotFoundError(err) {
		return
	}
	if err == nil && current.Status == schedule.StatusPending {
		return
	}
	if err := o.dispatcher.Disarm(ctx, job.ID); err != nil {
		o.metrics.dispatchError("disarm")
		log.Warnw("Failed to disarm job that left pending while arming", logger.FieldError, err)
	}
}

// sameAttempt reports whether job's current attempt is the one begun at startedAt
func sameAttempt(job *schedule.Job, startedAt time.Time) bool {
	if job.StartedAt == nil {
		return startedAt.IsZero()
	}
	return job.StartedAt.Equal(startedAt)
}
