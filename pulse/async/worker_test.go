package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/logger"
)

func TestWorkerPool_ProcessesAll(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}

	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 3, QueueSize: 4}, func(ctx context.Context, jobID string) {
		mu.Lock()
		seen[jobID]++
		mu.Unlock()
	}, zap.NewNop().Sugar())
	pool.Start()

	for i := 0; i < 50; i++ {
		require.True(t, pool.Submit(fmt.Sprintf("JB%d", i)))
	}

	require.Eventually(t, func() bool { return pool.Processed() == 50 }, 5*time.Second, 5*time.Millisecond)
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	var current, peak int32
	release := make(chan struct{})

	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 2, QueueSize: 10}, func(ctx context.Context, jobID string) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
	}, zap.NewNop().Sugar())
	pool.Start()

	for i := 0; i < 6; i++ {
		pool.Submit(fmt.Sprintf("JB%d", i))
	}

	require.Eventually(t, func() bool { return pool.Active() == 2 }, time.Second, time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return pool.Processed() == 6 }, 5*time.Second, time.Millisecond)
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestWorkerPool_StopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 1}, func(ctx context.Context, jobID string) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		// The attempt context survives shutdown
		assert.NoError(t, ctx.Err())
		finished.Store(true)
	}, zap.NewNop().Sugar())
	pool.Start()
	pool.Submit("JB1")

	<-started
	pool.Stop()
	assert.True(t, finished.Load())

	assert.False(t, pool.Submit("JB2"))
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 1}, func(ctx context.Context, jobID string) {
		if jobID == "boom" {
			panic("handler exploded")
		}
	}, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	pool.Submit("boom")
	pool.Submit("JB2")
	require.Eventually(t, func() bool { return pool.Processed() == 2 }, time.Second, time.Millisecond)
}

func TestWorkerPool_Throttle(t *testing.T) {
	var count int32
	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 4, QueueSize: 10, MaxPerSecond: 20}, func(ctx context.Context, jobID string) {
		atomic.AddInt32(&count, 1)
	}, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	start := time.Now()
	for i := 0; i < 5; i++ {
		pool.Submit(fmt.Sprintf("JB%d", i))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 5 }, 5*time.Second, time.Millisecond)

	// Burst of 1 at 20/s: five starts need at least four intervals of 50ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestWorkerPool_TagsAttemptContext(t *testing.T) {
	fields := make(chan []interface{}, 1)
	pool := NewWorkerPool(context.Background(), WorkerPoolConfig{Workers: 1, QueueSize: 1}, func(ctx context.Context, jobID string) {
		fields <- logger.FieldsFromContext(ctx)
	}, zap.NewNop().Sugar())
	pool.Start()
	defer pool.Stop()

	require.True(t, pool.Submit("JB1"))
	select {
	case got := <-fields:
		assert.Equal(t, []interface{}{logger.FieldComponent, "worker-0"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}
