package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/pulse/async"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// crashMidAttempt leaves job running with an open execution and no wake-up,
// as a process killed during execution would
func (f *fixture) crashMidAttempt(job *schedule.Job) {
	f.t.Helper()
	ctx := context.Background()

	startedAt := f.clock.Now()
	running := job.Clone()
	running.Status = schedule.StatusRunning
	running.StartedAt = &startedAt

	ok, err := schedule.NewStore(f.db).Transition(ctx, running, schedule.StatusPending)
	require.NoError(f.t, err)
	require.True(f.t, ok)

	require.NoError(f.t, schedule.NewExecutionStore(f.db).Append(ctx, &schedule.Execution{
		ID:            "PX-open-" + job.ID,
		JobID:         job.ID,
		AttemptNumber: job.RetryCount + 1,
		Outcome:       schedule.OutcomeFailed,
		StartedAt:     startedAt,
		CreatedAt:     startedAt,
	}))
	require.NoError(f.t, f.sub.Disarm(ctx, job.ID))
}

func TestReconcile_RecoversInterruptedAttempts(t *testing.T) {
	f := newFixture(t, immediateRetries())
	ctx := context.Background()

	retrying := f.create(oneTime(baseTime, 2))
	exhausted := f.create(oneTime(baseTime, 0))
	f.crashMidAttempt(retrying)
	f.crashMidAttempt(exhausted)
	f.clock.Advance(DefaultConfig().AttemptLease + DefaultConfig().RecoveryGrace)

	report, err := f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Recovered)
	assert.Equal(t, 0, report.Live)
	assert.Equal(t, 1, report.Rearmed)
	assert.Equal(t, 0, report.Failed)

	got := f.get(retrying.ID)
	assert.Equal(t, schedule.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, interruptedMessage, *got.ErrorMessage)
	_, armed := f.sub.Armed(retrying.ID)
	assert.True(t, armed)

	history := f.history(retrying.ID)
	require.Len(t, history, 1)
	assert.True(t, history[0].Finished())
	assert.Equal(t, schedule.OutcomeFailed, history[0].Outcome)

	assert.Equal(t, schedule.StatusFailed, f.get(exhausted.ID).Status)
	_, armed = f.sub.Armed(exhausted.ID)
	assert.False(t, armed)

	// The recovered job then runs normally
	f.runDue(retrying.ID)
	assert.Equal(t, schedule.StatusCompleted, f.get(retrying.ID).Status)
	assert.Len(t, f.history(retrying.ID), 2)
}

func TestReconcile_RearmsLostWakeups(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	job := f.create(oneTime(baseTime.Add(time.Hour), 3))
	cancelled := f.create(oneTime(baseTime.Add(time.Hour), 3))
	_, err := f.orch.CancelJob(ctx, cancelled.ID, owner)
	require.NoError(t, err)

	require.NoError(t, f.sub.Disarm(ctx, job.ID))

	report, err := f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rearmed)

	armed, ok := f.sub.Armed(job.ID)
	require.True(t, ok)
	assert.True(t, job.NextRunAt.Equal(armed))
	_, ok = f.sub.Armed(cancelled.ID)
	assert.False(t, ok)

	// Idempotent
	_, err = f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sub.Count())
}

func TestReconcile_ReportsArmFailures(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	job := f.create(oneTime(baseTime.Add(time.Hour), 3))

	f.sub.FailNext = 2
	f.sub.Err = errors.New("substrate unavailable")

	report, err := f.orch.Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsDispatchError(err))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Rearmed)

	_, ok := f.sub.Armed(job.ID)
	assert.True(t, ok, "the original wake-up is untouched")
}

func TestReconcile_LeavesLiveAttemptsAlone(t *testing.T) {
	f := newFixture(t, immediateRetries())
	ctx := context.Background()

	unbounded := f.create(oneTime(baseTime, 2))
	spec := oneTime(baseTime, 2)
	spec.TimeoutSeconds = 60
	bounded := f.create(spec)
	f.crashMidAttempt(unbounded)
	f.crashMidAttempt(bounded)

	report, err := f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Live)
	assert.Equal(t, 0, report.Recovered)
	assert.Equal(t, schedule.StatusRunning, f.get(unbounded.ID).Status)
	assert.Equal(t, schedule.StatusRunning, f.get(bounded.ID).Status)
	assert.False(t, f.history(bounded.ID)[0].Finished())

	// The job timeout plus grace bounds an attempt that has one
	f.clock.Advance(time.Minute + DefaultConfig().RecoveryGrace)
	report, err = f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Live)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, schedule.StatusPending, f.get(bounded.ID).Status)
	assert.Equal(t, schedule.StatusRunning, f.get(unbounded.ID).Status)

	// The lease bounds one that does not
	f.clock.Set(baseTime.Add(DefaultConfig().AttemptLease + DefaultConfig().RecoveryGrace))
	report, err = f.orch.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Live)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, schedule.StatusPending, f.get(unbounded.ID).Status)
}

func TestReconcile_LateOutcomeCannotSettleNewerAttempt(t *testing.T) {
	f := newFixture(t, immediateRetries())
	ctx := context.Background()
	job := f.create(oneTime(baseTime, 3))

	var (
		mu       sync.Mutex
		calls    int
		started  = []chan struct{}{make(chan struct{}), make(chan struct{})}
		releases = []chan struct{}{make(chan struct{}), make(chan struct{})}
	)
	f.orch.executor = async.ExecutorFunc(func(ctx context.Context, job *schedule.Job) (schedule.Value, error) {
		mu.Lock()
		n := calls
		calls++
		mu.Unlock()

		close(started[n])
		<-releases[n]
		if n == 0 {
			return schedule.String("late"), nil
		}
		return schedule.Null(), errors.New("second attempt failed")
	})

	fire := func() chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			f.sub.Fire(job.ID)
		}()
		return done
	}

	first := fire()
	<-started[0]

	// Another daemon writes the slow attempt off and runs the job again
	f.clock.Advance(DefaultConfig().AttemptLease + DefaultConfig().RecoveryGrace)
	report, err := f.orch.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Recovered)
	require.Equal(t, 1, f.get(job.ID).RetryCount)

	second := fire()
	<-started[1]

	close(releases[0])
	<-first
	got := f.get(job.ID)
	assert.Equal(t, schedule.StatusRunning, got.Status, "late success must not settle the newer attempt")
	assert.Equal(t, 1, got.RetryCount)

	close(releases[1])
	<-second
	got = f.get(job.ID)
	assert.Equal(t, schedule.StatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "second attempt failed", *got.ErrorMessage)
	assert.Len(t, f.history(job.ID), 2)
}
