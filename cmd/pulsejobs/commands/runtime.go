package commands

import (
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/am"
	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/pulse/async"
	"github.com/teranos/pulsejobs/pulse/dispatch"
	"github.com/teranos/pulsejobs/pulse/orchestrator"
	"github.com/teranos/pulsejobs/pulse/schedule"
)

// runtime wires the orchestrator to its configured collaborators
type runtime struct {
	orch      *orchestrator.Orchestrator
	substrate dispatch.Substrate
	redis     *redis.Client // nil unless backend is redis
}

func (r *runtime) Close() {
	if r.redis != nil {
		r.redis.Close()
	}
}

// newSubstrate builds the wake-up substrate selected by dispatch.backend.
// daemon is false for one-shot CLI commands, which cannot use in-process timers.
func newSubstrate(cfg *am.Config, database *sql.DB, daemon bool, log *zap.SugaredLogger) (dispatch.Substrate, *redis.Client, error) {
	interval := time.Duration(cfg.Dispatch.PollIntervalMS) * time.Millisecond

	switch cfg.Dispatch.Backend {
	case am.BackendTicker:
		return dispatch.NewTicker(database, dispatch.TickerConfig{Interval: interval}, log), nil, nil

	case am.BackendTimers:
		if !daemon {
			return nil, nil, errors.WithHint(
				errors.Newf("dispatch backend %q lives inside the daemon", am.BackendTimers),
				"use the ticker or redis backend to manage jobs from the CLI")
		}
		return dispatch.NewTimers(), nil, nil

	case am.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Dispatch.Redis.Addr,
			Password: cfg.Dispatch.Redis.Password,
			DB:       cfg.Dispatch.Redis.DB,
		})
		sub := dispatch.NewRedis(client, dispatch.RedisConfig{Key: cfg.Dispatch.Redis.Key, Interval: interval}, log)
		return sub, client, nil
	}
	return nil, nil, errors.Newf("unknown dispatch backend %q", cfg.Dispatch.Backend)
}

// newExecutor routes jobs to named handlers, falling back to the simulated capability
func newExecutor(cfg *am.Config) (async.Executor, error) {
	simulated := async.NewSimulated(
		time.Duration(cfg.Executor.SimulatedLatencyMS)*time.Millisecond,
		cfg.Executor.FailureRate)

	registry := async.NewHandlerRegistry()
	if err := registry.Register(simulated); err != nil {
		return nil, err
	}
	return async.NewRegistryExecutor(registry, simulated), nil
}

func newRuntime(cfg *am.Config, database *sql.DB, daemon bool, log *zap.SugaredLogger, opts ...orchestrator.Option) (*runtime, error) {
	substrate, client, err := newSubstrate(cfg, database, daemon, log.Named("dispatch"))
	if err != nil {
		return nil, err
	}

	executor, err := newExecutor(cfg)
	if err != nil {
		return nil, err
	}

	adapter := dispatch.NewAdapter(substrate, dispatch.Config{
		Attempts:      cfg.Dispatch.ArmAttempts,
		RetryInterval: time.Duration(cfg.Dispatch.ArmRetryIntervalMS) * time.Millisecond,
	}, log.Named("dispatch"))

	orch := orchestrator.New(
		schedule.NewStore(database),
		schedule.NewExecutionStore(database),
		adapter,
		executor,
		orchestrator.Config{
			BaseDelay:         time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:          time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			DefaultMaxRetries: cfg.Retry.DefaultMaxRetries,
			ExecutionTimeout:  time.Duration(cfg.Pulse.ExecutionTimeoutSeconds) * time.Second,
			RecoveryGrace:     time.Duration(cfg.Pulse.RecoveryGraceSeconds) * time.Second,
			AttemptLease:      time.Duration(cfg.Pulse.AttemptLeaseSeconds) * time.Second,
		},
		log,
		opts...,
	)

	return &runtime{orch: orch, substrate: substrate, redis: client}, nil
}
