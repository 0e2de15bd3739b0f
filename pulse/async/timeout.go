package async

import (
	"context"
	"time"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// WithTimeout bounds every attempt by the job's own timeout, or def when the
// job sets none. def of 0 means attempts without a job timeout are unbounded.
func WithTimeout(next Executor, def time.Duration) Executor {
	return ExecutorFunc(func(ctx context.Context, job *schedule.Job) (schedule.Value, error) {
		timeout := job.Timeout(def)
		if timeout <= 0 {
			return next.Execute(ctx, job)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := next.Execute(attemptCtx, job)
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return schedule.Null(), errors.Wrapf(errors.ErrTimeout, "execution exceeded %s", timeout)
		}
		return result, err
	})
}
