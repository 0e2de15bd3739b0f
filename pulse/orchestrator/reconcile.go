package orchestrator

import (
	"context"
	"time"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// MaxInterruptedJobsToRecover limits how many interrupted jobs one reconcile handles
const MaxInterruptedJobsToRecover = 1000

// interruptedMessage is recorded on attempts cut short by a crash or restart
const interruptedMessage = "execution interrupted"

// ReconcileReport summarizes a reconcile pass
type ReconcileReport struct {
	Recovered int // Running jobs whose attempt was closed as failed
	Live      int // Running jobs whose attempt is still within its lease
	Rearmed   int // Pending jobs armed at their next run time
	Failed    int // Pending jobs that could not be armed
}

// Reconcile repairs state left behind by a crash. Jobs stuck running past
// their attempt lease have the open attempt failed and go through the normal
// retry policy; attempts still within the lease may belong to another daemon
// sharing the store and are left alone. Every active pending job is armed
// again at NextRunAt.
//
// Run it on startup and then periodically; repeated passes are idempotent.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	openLog := logger.AddPulseOpenSymbol(o.logger)

	running, err := o.jobs.FindRunning(ctx)
	if err != nil {
		return report, errors.Wrap(err, "failed to find running jobs")
	}
	if len(running) > MaxInterruptedJobsToRecover {
		openLog.Warnw("Too many interrupted jobs, recovering a subset",
			logger.FieldCount, len(running),
			"max", MaxInterruptedJobsToRecover)
		running = running[:MaxInterruptedJobsToRecover]
	}

	for _, job := range running {
		now := o.now()
		if !o.abandoned(job, now) {
			report.Live++
			continue
		}
		interrupted := errors.WrapExecution(errors.New(interruptedMessage))

		open, err := o.executions.Open(ctx, job.ID)
		if err != nil {
			openLog.Warnw("Failed to find open execution", logger.FieldJobID, job.ID, logger.FieldError, err)
		} else if open != nil {
			o.finalize(ctx, open, now, schedule.Null(), interrupted)
		}

		var startedAt time.Time
		if job.StartedAt != nil {
			startedAt = *job.StartedAt
		}
		o.applyOutcome(ctx, job.ID, startedAt, now, schedule.Null(), interrupted)
		report.Recovered++
	}

	pending, err := o.jobs.FindPending(ctx)
	if err != nil {
		return report, errors.Wrap(err, "failed to find pending jobs")
	}

	var firstErr error
	for _, job := range pending {
		if err := o.dispatcher.Arm(ctx, job.ID, job.NextRunAt); err != nil {
			o.metrics.dispatchError("arm")
			openLog.Errorw("Failed to re-arm job", logger.FieldJobID, job.ID, logger.FieldError, err)
			if firstErr == nil {
				firstErr = err
			}
			report.Failed++
			continue
		}
		report.Rearmed++
	}

	done := openLog.Debugw
	if report.Recovered > 0 || report.Failed > 0 {
		done = openLog.Infow
	}
	done("Reconcile complete",
		"recovered", report.Recovered,
		"live", report.Live,
		"rearmed", report.Rearmed,
		"failed", report.Failed)

	if firstErr != nil {
		return report, errors.WithDetailf(firstErr, "%d pending job(s) could not be armed", report.Failed)
	}
	return report, nil
}

// abandoned reports whether a running job's attempt has outlived its lease
func (o *Orchestrator) abandoned(job *schedule.Job, now time.Time) bool {
	if job.StartedAt == nil {
		return true
	}
	lease := job.Timeout(o.cfg.ExecutionTimeout)
	if lease <= 0 {
		lease = o.cfg.AttemptLease
	}
	return !now.Before(job.StartedAt.Add(lease + o.cfg.RecoveryGrace))
}
