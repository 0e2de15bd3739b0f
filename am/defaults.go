package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "pulsejobs.db")

	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.max_executions_per_second", 0.0)
	v.SetDefault("pulse.execution_timeout_seconds", 0)
	v.SetDefault("pulse.recovery_grace_seconds", 30)
	v.SetDefault("pulse.attempt_lease_seconds", 3600)
	v.SetDefault("pulse.reconcile_interval_seconds", 60)

	v.SetDefault("retry.base_delay_ms", 5000)
	v.SetDefault("retry.max_delay_ms", 300000) // 5 minutes
	v.SetDefault("retry.default_max_retries", 3)

	v.SetDefault("dispatch.backend", BackendTicker)
	v.SetDefault("dispatch.poll_interval_ms", 1000)
	v.SetDefault("dispatch.arm_attempts", 5)
	v.SetDefault("dispatch.arm_retry_interval_ms", 100)
	v.SetDefault("dispatch.redis.addr", "localhost:6379")
	v.SetDefault("dispatch.redis.password", "")
	v.SetDefault("dispatch.redis.db", 0)
	v.SetDefault("dispatch.redis.key", "pulse:wakeups")

	v.SetDefault("executor.simulated_latency_ms", 200)
	v.SetDefault("executor.failure_rate", 0.1)

	v.SetDefault("server.metrics_addr", "")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("dispatch.redis.password", "PULSEJOBS_REDIS_PASSWORD")
}
