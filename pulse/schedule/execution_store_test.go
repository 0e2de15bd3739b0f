package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsejobs/errors"
	pulsetest "github.com/teranos/pulsejobs/internal/testing"
	"github.com/teranos/pulsejobs/internal/util"
)

func TestExecutionStore_AppendFinalizeHistory(t *testing.T) {
	ctx := context.Background()
	database := pulsetest.CreateTestDB(t)
	store := NewStore(database)
	execs := NewExecutionStore(database)
	require.NoError(t, store.Create(ctx, newTestJob("JB1", "alice", baseTime)))

	for attempt := 1; attempt <= 3; attempt++ {
		started := baseTime.Add(time.Duration(attempt) * time.Minute)
		exec := &Execution{
			ID:            "PX" + string(rune('0'+attempt)),
			JobID:         "JB1",
			AttemptNumber: attempt,
			Outcome:       OutcomeFailed,
			StartedAt:     started,
			CreatedAt:     started,
		}
		require.NoError(t, execs.Append(ctx, exec))

		open, err := execs.Open(ctx, "JB1")
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, exec.ID, open.ID)
		assert.False(t, open.Finished())

		exec.CompletedAt = util.Ptr(started.Add(2 * time.Second))
		exec.DurationMs = util.Ptr(2000)
		if attempt == 3 {
			exec.Outcome = OutcomeSuccess
			exec.Result = util.Ptr(Object(map[string]Value{"sent": Number(12)}))
		} else {
			exec.ErrorMessage = util.Ptr("smtp timeout")
		}
		require.NoError(t, execs.Finalize(ctx, exec))
	}

	open, err := execs.Open(ctx, "JB1")
	require.NoError(t, err)
	assert.Nil(t, open)

	history, err := execs.History(ctx, "JB1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].AttemptNumber)
	assert.Equal(t, OutcomeSuccess, history[0].Outcome)
	assert.Equal(t, `{"sent":12}`, history[0].Result.MustJSON())
	assert.Equal(t, 1, history[2].AttemptNumber)
	assert.Equal(t, "smtp timeout", *history[2].ErrorMessage)
	assert.Equal(t, 2000, *history[2].DurationMs)

	limited, err := execs.History(ctx, "JB1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestExecutionStore_AppendRequiresJob(t *testing.T) {
	execs := NewExecutionStore(pulsetest.CreateTestDB(t))
	err := execs.Append(context.Background(), &Execution{
		ID: "PX1", JobID: "JB404", AttemptNumber: 1, Outcome: OutcomeFailed,
		StartedAt: baseTime, CreatedAt: baseTime,
	})
	assert.Error(t, err)
}

func TestExecutionStore_FinalizeMissing(t *testing.T) {
	execs := NewExecutionStore(pulsetest.CreateTestDB(t))
	err := execs.Finalize(context.Background(), &Execution{ID: "PX404", Outcome: OutcomeSuccess, StartedAt: baseTime})
	assert.True(t, errors.IsNotFoundError(err))
}
