package am

import "github.com/teranos/pulsejobs/errors"

// MaxRetriesLimit is the highest retry cap a job may request
const MaxRetriesLimit = 10

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Pulse workers: at least one, otherwise wake-ups are never executed
	if c.Pulse.Workers < 1 {
		return errors.Newf("pulse.workers must be >= 1, got %d", c.Pulse.Workers)
	}
	if c.Pulse.MaxExecutionsPerSecond < 0 {
		return errors.Newf("pulse.max_executions_per_second must be >= 0, got %f", c.Pulse.MaxExecutionsPerSecond)
	}
	if c.Pulse.ExecutionTimeoutSeconds < 0 {
		return errors.Newf("pulse.execution_timeout_seconds must be >= 0, got %d", c.Pulse.ExecutionTimeoutSeconds)
	}
	if c.Pulse.RecoveryGraceSeconds < 0 {
		return errors.Newf("pulse.recovery_grace_seconds must be >= 0, got %d", c.Pulse.RecoveryGraceSeconds)
	}
	if c.Pulse.AttemptLeaseSeconds < 1 {
		return errors.Newf("pulse.attempt_lease_seconds must be >= 1, got %d", c.Pulse.AttemptLeaseSeconds)
	}
	if c.Pulse.ReconcileIntervalSeconds < 0 {
		return errors.Newf("pulse.reconcile_interval_seconds must be >= 0, got %d", c.Pulse.ReconcileIntervalSeconds)
	}

	// Retry: 0 base delay = immediate retry
	if c.Retry.BaseDelayMS < 0 {
		return errors.Newf("retry.base_delay_ms must be >= 0, got %d", c.Retry.BaseDelayMS)
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.Newf("retry.max_delay_ms (%d) must be >= retry.base_delay_ms (%d)", c.Retry.MaxDelayMS, c.Retry.BaseDelayMS)
	}
	if c.Retry.DefaultMaxRetries < 0 || c.Retry.DefaultMaxRetries > MaxRetriesLimit {
		return errors.Newf("retry.default_max_retries must be between 0 and %d, got %d", MaxRetriesLimit, c.Retry.DefaultMaxRetries)
	}

	switch c.Dispatch.Backend {
	case BackendTicker, BackendTimers:
	case BackendRedis:
		if c.Dispatch.Redis.Addr == "" {
			return errors.New("dispatch.redis.addr cannot be empty when backend is redis")
		}
		if c.Dispatch.Redis.Key == "" {
			return errors.New("dispatch.redis.key cannot be empty when backend is redis")
		}
	default:
		return errors.Newf("dispatch.backend must be one of ticker, timers, redis, got %q", c.Dispatch.Backend)
	}
	if c.Dispatch.PollIntervalMS <= 0 {
		return errors.Newf("dispatch.poll_interval_ms must be > 0, got %d", c.Dispatch.PollIntervalMS)
	}
	if c.Dispatch.ArmAttempts < 1 {
		return errors.Newf("dispatch.arm_attempts must be >= 1, got %d", c.Dispatch.ArmAttempts)
	}
	if c.Dispatch.ArmRetryIntervalMS < 0 {
		return errors.Newf("dispatch.arm_retry_interval_ms must be >= 0, got %d", c.Dispatch.ArmRetryIntervalMS)
	}

	if c.Executor.SimulatedLatencyMS < 0 {
		return errors.Newf("executor.simulated_latency_ms must be >= 0, got %d", c.Executor.SimulatedLatencyMS)
	}
	if c.Executor.FailureRate < 0 || c.Executor.FailureRate > 1 {
		return errors.Newf("executor.failure_rate must be between 0 and 1, got %f", c.Executor.FailureRate)
	}

	return nil
}
