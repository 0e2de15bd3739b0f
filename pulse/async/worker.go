package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pulsejobs/logger"
)

// Handle processes one delivered wake-up
type Handle func(ctx context.Context, jobID string)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           // Concurrent executions
	QueueSize    int           // Buffered deliveries before Submit blocks
	MaxPerSecond float64       // Start-rate throttle across all workers; 0 = unthrottled
	StopTimeout  time.Duration // How long Stop waits for in-flight attempts
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:     4,
		QueueSize:   256,
		StopTimeout: 30 * time.Second,
	}
}

// WorkerPool runs delivered wake-ups on a fixed number of goroutines
type WorkerPool struct {
	cfg     WorkerPoolConfig
	handle  Handle
	limiter *rate.Limiter // nil when unthrottled

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	active    int
	processed int64
	stopped   bool

	logger   *zap.SugaredLogger
	closeLog *zap.SugaredLogger
}

// NewWorkerPool creates a worker pool. Work submitted before Start is buffered.
func NewWorkerPool(ctx context.Context, cfg WorkerPoolConfig, handle Handle, log *zap.SugaredLogger) *WorkerPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	poolCtx, cancel := context.WithCancel(ctx)
	wp := &WorkerPool{
		cfg:      cfg,
		handle:   handle,
		queue:    make(chan string, cfg.QueueSize),
		ctx:      poolCtx,
		cancel:   cancel,
		logger:   logger.AddPulseSymbol(log),
		closeLog: logger.AddPulseCloseSymbol(log),
	}
	if cfg.MaxPerSecond > 0 {
		wp.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1)
	}
	return wp
}

// Start spawns the workers
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started", "workers", wp.cfg.Workers, "max_per_second", wp.cfg.MaxPerSecond)
}

// Submit hands a job to the pool, blocking while the queue is full.
// Returns false if the pool is stopping; the wake-up is then dropped and
// recovered by reconciliation on the next start.
func (wp *WorkerPool) Submit(jobID string) bool {
	wp.mu.Lock()
	stopped := wp.stopped
	wp.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case wp.queue <- jobID:
		return true
	case <-wp.ctx.Done():
		return false
	}
}

// Stop stops accepting work and waits for in-flight attempts.
// Queued but unstarted deliveries are dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.closeLog.Infow("Worker pool stopped", "processed", wp.Processed())
	case <-time.After(wp.cfg.StopTimeout):
		wp.closeLog.Warnw("Worker pool stop timed out, attempts still in flight", "timeout", wp.cfg.StopTimeout, "active", wp.Active())
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case jobID := <-wp.queue:
			if wp.limiter != nil {
				if err := wp.limiter.Wait(wp.ctx); err != nil {
					return
				}
			}
			wp.run(id, jobID)
		}
	}
}

func (wp *WorkerPool) run(workerID int, jobID string) {
	wp.mu.Lock()
	wp.active++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Execution panicked", "worker", workerID, logger.FieldJobID, jobID, "panic", r)
		}
		wp.mu.Lock()
		wp.active--
		wp.processed++
		wp.mu.Unlock()
	}()

	// Attempts finish on their own context so shutdown does not cut them short
	ctx := logger.WithComponent(context.WithoutCancel(wp.ctx), fmt.Sprintf("worker-%d", workerID))
	wp.handle(ctx, jobID)
}

// Active returns the number of attempts in flight
func (wp *WorkerPool) Active() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.active
}

// Processed returns the number of deliveries handled since creation
func (wp *WorkerPool) Processed() int64 {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.processed
}

// Workers returns the configured concurrency
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}
