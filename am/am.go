// Package am holds the pulsejobs configuration ("I am").
//
// Values are layered: built-in defaults, then user config
// (~/.pulsejobs/am.toml), then the nearest project am.toml, then
// PULSEJOBS_* environment variables.
package am

// Config represents the pulsejobs configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" yaml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse" yaml:"pulse"`
	Retry    RetryConfig    `mapstructure:"retry" toml:"retry" yaml:"retry"`
	Dispatch DispatchConfig `mapstructure:"dispatch" toml:"dispatch" yaml:"dispatch"`
	Executor ExecutorConfig `mapstructure:"executor" toml:"executor" yaml:"executor"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" yaml:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// PulseConfig configures job execution
type PulseConfig struct {
	Workers                 int     `mapstructure:"workers" toml:"workers" yaml:"workers"`                                     // Concurrent executions (default: 4)
	MaxExecutionsPerSecond  float64 `mapstructure:"max_executions_per_second" toml:"max_executions_per_second" yaml:"max_executions_per_second"` // 0 = unthrottled
	ExecutionTimeoutSeconds int     `mapstructure:"execution_timeout_seconds" toml:"execution_timeout_seconds" yaml:"execution_timeout_seconds"` // Default per-attempt timeout, 0 = none

	// Recovery of attempts abandoned by a crashed daemon
	RecoveryGraceSeconds     int `mapstructure:"recovery_grace_seconds" toml:"recovery_grace_seconds" yaml:"recovery_grace_seconds"`             // Wait past an attempt's timeout before recovering it
	AttemptLeaseSeconds      int `mapstructure:"attempt_lease_seconds" toml:"attempt_lease_seconds" yaml:"attempt_lease_seconds"`                // Lifetime assumed for attempts with no timeout
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds" toml:"reconcile_interval_seconds" yaml:"reconcile_interval_seconds"` // 0 = reconcile on startup only
}

// RetryConfig configures the failed-attempt backoff policy
type RetryConfig struct {
	BaseDelayMS       int `mapstructure:"base_delay_ms" toml:"base_delay_ms" yaml:"base_delay_ms"`             // Delay before first retry, doubled per attempt; 0 = immediate
	MaxDelayMS        int `mapstructure:"max_delay_ms" toml:"max_delay_ms" yaml:"max_delay_ms"`               // Cap on a single retry delay
	DefaultMaxRetries int `mapstructure:"default_max_retries" toml:"default_max_retries" yaml:"default_max_retries"` // Used when a job does not set one
}

// DispatchConfig selects and tunes the wake-up substrate
type DispatchConfig struct {
	Backend            string      `mapstructure:"backend" toml:"backend" yaml:"backend"` // ticker, timers, redis
	PollIntervalMS     int         `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	ArmAttempts        int         `mapstructure:"arm_attempts" toml:"arm_attempts" yaml:"arm_attempts"`
	ArmRetryIntervalMS int         `mapstructure:"arm_retry_interval_ms" toml:"arm_retry_interval_ms" yaml:"arm_retry_interval_ms"`
	Redis              RedisConfig `mapstructure:"redis" toml:"redis" yaml:"redis"`
}

// RedisConfig configures the redis dispatch backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr" toml:"addr" yaml:"addr"`
	Password string `mapstructure:"password" toml:"password" yaml:"password"`
	DB       int    `mapstructure:"db" toml:"db" yaml:"db"`
	Key      string `mapstructure:"key" toml:"key" yaml:"key"`
}

// ExecutorConfig configures the simulated execution capability
type ExecutorConfig struct {
	SimulatedLatencyMS int     `mapstructure:"simulated_latency_ms" toml:"simulated_latency_ms" yaml:"simulated_latency_ms"`
	FailureRate        float64 `mapstructure:"failure_rate" toml:"failure_rate" yaml:"failure_rate"` // 0.0 - 1.0
}

// ServerConfig configures the daemon's HTTP surface
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr"` // Empty disables /metrics
}

// Dispatch backends
const (
	BackendTicker = "ticker"
	BackendTimers = "timers"
	BackendRedis  = "redis"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
