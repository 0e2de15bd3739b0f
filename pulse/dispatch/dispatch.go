// Package dispatch arms and disarms the per-job wake-ups that trigger execution.
//
// A Substrate is the mechanism that fires a wake-up at a point in time: an
// in-process timer, a polled SQLite table or a Redis sorted set. The Adapter
// wraps a substrate with bounded retries so transient failures do not leave a
// job un-armed.
package dispatch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
)

// Deliver is invoked once per fired wake-up
type Deliver func(jobID string)

// Substrate fires wake-ups.
//
// Arm is last-write-wins: arming a job that already has a wake-up replaces
// it, so a job never holds more than one. Disarm of an unknown job is a
// no-op. Wake-ups armed in the past fire promptly.
type Substrate interface {
	Arm(ctx context.Context, jobID string, at time.Time) error
	Disarm(ctx context.Context, jobID string) error
	Start(deliver Deliver) error
	Stop()
}

// Inspector is implemented by substrates that can report an armed wake-up
type Inspector interface {
	ArmedAt(ctx context.Context, jobID string) (time.Time, bool, error)
}

// Config bounds the adapter's retries
type Config struct {
	Attempts      int           // Total tries per operation, at least 1
	RetryInterval time.Duration // Initial delay between tries, grows exponentially
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{Attempts: 5, RetryInterval: 100 * time.Millisecond}
}

// Adapter arms, disarms and re-arms wake-ups on a substrate
type Adapter struct {
	substrate Substrate
	cfg       Config
	logger    *zap.SugaredLogger
}

// NewAdapter creates a dispatch adapter
func NewAdapter(substrate Substrate, cfg Config, log *zap.SugaredLogger) *Adapter {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Adapter{
		substrate: substrate,
		cfg:       cfg,
		logger:    logger.AddPulseSymbol(log),
	}
}

// Substrate returns the wrapped substrate
func (a *Adapter) Substrate() Substrate {
	return a.substrate
}

// Arm registers a wake-up for jobID at at, replacing any existing one
func (a *Adapter) Arm(ctx context.Context, jobID string, at time.Time) error {
	return a.retry(ctx, "arm", jobID, func() error {
		return a.substrate.Arm(ctx, jobID, at)
	})
}

// Disarm removes any wake-up for jobID
func (a *Adapter) Disarm(ctx context.Context, jobID string) error {
	return a.retry(ctx, "disarm", jobID, func() error {
		return a.substrate.Disarm(ctx, jobID)
	})
}

// Rearm replaces jobID's wake-up with one at at
func (a *Adapter) Rearm(ctx context.Context, jobID string, at time.Time) error {
	if err := a.Disarm(ctx, jobID); err != nil {
		return err
	}
	return a.Arm(ctx, jobID, at)
}

func (a *Adapter) retry(ctx context.Context, op, jobID string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.RetryInterval
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(a.cfg.Attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, b, func(err error, wait time.Duration) {
		a.logger.Warnw("Dispatch operation failed, retrying",
			logger.FieldOperation, op,
			logger.FieldJobID, jobID,
			logger.FieldAttempt, attempt,
			"retry_in", wait,
			logger.FieldError, err)
	})
	if err != nil {
		return errors.WithDetailf(
			errors.WrapDispatch(err, op+" "+jobID),
			"gave up after %d attempt(s)", attempt)
	}
	return nil
}
