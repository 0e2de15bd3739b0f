package async

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// Simulated stands in for real work: it waits for a fixed latency and fails
// a configurable fraction of attempts. The daemon uses it as the default
// executor when no handler is named.
type Simulated struct {
	latency     time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated executor
func NewSimulated(latency time.Duration, failureRate float64) *Simulated {
	return NewSimulatedWithSource(latency, failureRate, rand.NewSource(time.Now().UnixNano()))
}

// NewSimulatedWithSource creates a simulated executor with a deterministic random source (for tests)
func NewSimulatedWithSource(latency time.Duration, failureRate float64, src rand.Source) *Simulated {
	return &Simulated{
		latency:     latency,
		failureRate: failureRate,
		rng:         rand.New(src),
	}
}

// Execute implements Executor
func (s *Simulated) Execute(ctx context.Context, job *schedule.Job) (schedule.Value, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return schedule.Null(), ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.failureRate {
		return schedule.Null(), errors.Newf("simulated failure for job %s", job.ID)
	}

	return schedule.Object(map[string]schedule.Value{
		"job_id":  schedule.String(job.ID),
		"payload": job.Payload,
	}), nil
}

// Name registers the simulator under "simulated"
func (s *Simulated) Name() string { return "simulated" }
