package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsejobs/errors"
	pulsetest "github.com/teranos/pulsejobs/internal/testing"
	"github.com/teranos/pulsejobs/internal/util"
)

var baseTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(id, owner string, at time.Time) *Job {
	return &Job{
		ID:          id,
		OwnerID:     owner,
		Name:        "job " + id,
		Payload:     Object(map[string]Value{"n": Number(1)}),
		Type:        TypeOneTime,
		ScheduledAt: at,
		NextRunAt:   at,
		IsActive:    true,
		Status:      StatusPending,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))

	job := newTestJob("JB1", "alice", baseTime.Add(time.Hour))
	job.Type = TypeRecurring
	job.RecurrencePattern = util.Ptr(PatternMonthly)
	job.Description = "monthly invoices"
	job.Metadata = map[string]string{MetadataHandler: "invoice"}
	job.TimeoutSeconds = 30
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, "JB1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "monthly invoices", got.Description)
	assert.Equal(t, PatternMonthly, got.Pattern())
	assert.Equal(t, "invoice", got.Metadata[MetadataHandler])
	assert.Equal(t, 30, got.TimeoutSeconds)
	assert.True(t, got.IsActive)
	assert.True(t, job.ScheduledAt.Equal(got.ScheduledAt))
	assert.Equal(t, `{"n":1}`, got.Payload.MustJSON())
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Result)
}

func TestStore_FindByID_ScopedToOwner(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))
	require.NoError(t, store.Create(ctx, newTestJob("JB1", "alice", baseTime)))

	_, err := store.FindByID(ctx, "JB1", "alice")
	require.NoError(t, err)

	_, err = store.FindByID(ctx, "JB1", "mallory")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = store.Get(ctx, "JB404")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_FindAll(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))

	for i := 0; i < 25; i++ {
		job := newTestJob(fmt.Sprintf("JB%02d", i), "alice", baseTime.Add(time.Duration(i)*time.Hour))
		if i%5 == 0 {
			job.Status = StatusCompleted
			job.IsActive = false
		}
		require.NoError(t, store.Create(ctx, job))
	}
	require.NoError(t, store.Create(ctx, newTestJob("JBbob", "bob", baseTime)))

	t.Run("default page", func(t *testing.T) {
		jobs, total, err := store.FindAll(ctx, "alice", Filter{}, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		assert.Len(t, jobs, DefaultPageSize)
		assert.Equal(t, "JB00", jobs[0].ID)
	})

	t.Run("second page", func(t *testing.T) {
		jobs, total, err := store.FindAll(ctx, "alice", Filter{}, 2, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		require.Len(t, jobs, 10)
		assert.Equal(t, "JB10", jobs[0].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		jobs, total, err := store.FindAll(ctx, "alice", Filter{Status: util.Ptr(StatusCompleted)}, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, jobs, 5)
	})

	t.Run("date range", func(t *testing.T) {
		from := baseTime.Add(2 * time.Hour)
		to := baseTime.Add(4 * time.Hour)
		jobs, total, err := store.FindAll(ctx, "alice", Filter{From: &from, To: &to}, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, "JB02", jobs[0].ID)
		assert.Equal(t, "JB04", jobs[2].ID)
	})

	t.Run("type filter", func(t *testing.T) {
		_, total, err := store.FindAll(ctx, "alice", Filter{Type: util.Ptr(TypeRecurring)}, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 0, total)
	})

	t.Run("other owner", func(t *testing.T) {
		jobs, total, err := store.FindAll(ctx, "bob", Filter{}, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "JBbob", jobs[0].ID)
	})
}

func TestStore_UpdateAndTransition(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))
	job := newTestJob("JB1", "alice", baseTime)
	require.NoError(t, store.Create(ctx, job))

	running := job.Clone()
	running.Status = StatusRunning
	running.StartedAt = util.Ptr(baseTime.Add(time.Minute))

	ok, err := store.Transition(ctx, running, StatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim from pending loses
	ok, err = store.Transition(ctx, running, StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	done := running.Clone()
	done.Status = StatusCompleted
	done.IsActive = false
	done.Result = util.Ptr(String("ok"))
	done.ErrorMessage = nil
	require.NoError(t, store.Update(ctx, done))

	got, err := store.Get(ctx, "JB1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.Result)
	assert.Equal(t, `"ok"`, got.Result.MustJSON())
	require.NotNil(t, got.StartedAt)

	missing := newTestJob("JB404", "alice", baseTime)
	assert.True(t, errors.IsNotFoundError(store.Update(ctx, missing)))
}

func TestStore_TransitionRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))
	job := newTestJob("JB1", "alice", baseTime)
	require.NoError(t, store.Create(ctx, job))

	// A reader takes a snapshot while the job is pending
	stale, err := store.Get(ctx, "JB1")
	require.NoError(t, err)
	assert.Equal(t, 0, stale.Version)

	// Meanwhile an attempt runs and fails, returning the job to pending
	running := stale.Clone()
	running.Status = StatusRunning
	ok, err := store.Transition(ctx, running, StatusPending)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, running.Version)

	retried := running.Clone()
	retried.Status = StatusPending
	retried.RetryCount = 1
	retried.NextRunAt = baseTime.Add(5 * time.Second)
	ok, err = store.Transition(ctx, retried, StatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// Same status as the snapshot, but the row moved on
	edited := stale.Clone()
	edited.Name = "renamed"
	ok, err = store.Transition(ctx, edited, StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "JB1")
	require.NoError(t, err)
	assert.Equal(t, "job JB1", got.Name)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.NextRunAt.Equal(baseTime.Add(5*time.Second)))
}

func TestStore_DeleteCascadesExecutions(t *testing.T) {
	ctx := context.Background()
	database := pulsetest.CreateTestDB(t)
	store := NewStore(database)
	execs := NewExecutionStore(database)

	require.NoError(t, store.Create(ctx, newTestJob("JB1", "alice", baseTime)))
	require.NoError(t, execs.Append(ctx, &Execution{
		ID: "PX1", JobID: "JB1", AttemptNumber: 1, Outcome: OutcomeFailed,
		StartedAt: baseTime, CreatedAt: baseTime,
	}))

	assert.True(t, errors.IsNotFoundError(store.Delete(ctx, "JB1", "mallory")))
	require.NoError(t, store.Delete(ctx, "JB1", "alice"))

	history, err := execs.History(ctx, "JB1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_FindPendingRunningRecurring(t *testing.T) {
	ctx := context.Background()
	store := NewStore(pulsetest.CreateTestDB(t))

	pending := newTestJob("JB1", "alice", baseTime.Add(2*time.Hour))
	earlier := newTestJob("JB2", "alice", baseTime.Add(time.Hour))
	earlier.Type = TypeRecurring
	earlier.RecurrencePattern = util.Ptr(PatternDaily)
	running := newTestJob("JB3", "alice", baseTime)
	running.Status = StatusRunning
	running.StartedAt = util.Ptr(baseTime)
	cancelled := newTestJob("JB4", "alice", baseTime)
	cancelled.Status = StatusCancelled
	cancelled.IsActive = false

	for _, j := range []*Job{pending, earlier, running, cancelled} {
		require.NoError(t, store.Create(ctx, j))
	}

	jobs, err := store.FindPending(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "JB2", jobs[0].ID)

	jobs, err = store.FindRunning(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "JB3", jobs[0].ID)

	jobs, err = store.FindRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "JB2", jobs[0].ID)
}

func TestStore_CreateError(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec("INSERT INTO pulse_jobs").WillReturnError(fmt.Errorf("disk full"))

	err = NewStore(database).Create(context.Background(), newTestJob("JB1", "alice", baseTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job JB1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransitionConditionalSQL(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec(`UPDATE pulse_jobs SET .* WHERE id = \? AND status = \? AND version = \?`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	job := newTestJob("JB1", "alice", baseTime)
	job.Status = StatusRunning
	ok, err := NewStore(database).Transition(context.Background(), job, StatusPending)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
