package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	cfg := Config{BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{7, 5 * time.Minute},
		{10, 5 * time.Minute},
		{500, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.RetryDelay(tt.retry), "retry %d", tt.retry)
	}
}

func TestRetryDelay_ZeroBaseIsImmediate(t *testing.T) {
	cfg := Config{MaxDelay: time.Minute}
	for retry := 1; retry <= 10; retry++ {
		assert.Zero(t, cfg.RetryDelay(retry))
	}
}

func TestRetryDelay_Uncapped(t *testing.T) {
	cfg := Config{BaseDelay: time.Second}
	assert.Equal(t, 8*time.Second, cfg.RetryDelay(4))
}
