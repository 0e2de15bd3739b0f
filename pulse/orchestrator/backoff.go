package orchestrator

import "time"

// RetryDelay returns how long to wait before retry number retryCount (1-based):
// BaseDelay doubled per earlier retry, capped at MaxDelay.
func (c Config) RetryDelay(retryCount int) time.Duration {
	if c.BaseDelay <= 0 || retryCount < 1 {
		return 0
	}
	delay := c.BaseDelay
	for i := 1; i < retryCount; i++ {
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			break
		}
		delay *= 2
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}
