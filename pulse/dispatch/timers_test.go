package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) deliver(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestTimers_FiresOnce(t *testing.T) {
	rec := &recorder{}
	timers := NewTimers()
	require.NoError(t, timers.Start(rec.deliver))
	defer timers.Stop()

	require.NoError(t, timers.Arm(context.Background(), "JB1", time.Now().Add(10*time.Millisecond)))

	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"JB1"}, rec.got())

	_, armed, _ := timers.ArmedAt(context.Background(), "JB1")
	assert.False(t, armed)
}

func TestTimers_ArmReplaces(t *testing.T) {
	rec := &recorder{}
	timers := NewTimers()
	require.NoError(t, timers.Start(rec.deliver))
	defer timers.Stop()

	ctx := context.Background()
	require.NoError(t, timers.Arm(ctx, "JB1", time.Now().Add(20*time.Millisecond)))
	later := time.Now().Add(time.Hour)
	require.NoError(t, timers.Arm(ctx, "JB1", later))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.got())

	armedAt, armed, err := timers.ArmedAt(ctx, "JB1")
	require.NoError(t, err)
	assert.True(t, armed)
	assert.True(t, later.Equal(armedAt))
}

func TestTimers_Disarm(t *testing.T) {
	rec := &recorder{}
	timers := NewTimers()
	require.NoError(t, timers.Start(rec.deliver))
	defer timers.Stop()

	ctx := context.Background()
	require.NoError(t, timers.Arm(ctx, "JB1", time.Now().Add(20*time.Millisecond)))
	require.NoError(t, timers.Disarm(ctx, "JB1"))
	require.NoError(t, timers.Disarm(ctx, "JB404"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.got())
}

func TestTimers_ArmedBeforeStartFireAfterStart(t *testing.T) {
	rec := &recorder{}
	timers := NewTimers()
	require.NoError(t, timers.Arm(context.Background(), "JB1", time.Now().Add(-time.Minute)))

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.got())

	require.NoError(t, timers.Start(rec.deliver))
	defer timers.Stop()
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, time.Millisecond)
}
