// Package appconfig holds process-level ambient configuration for the
// coordinator, worker and CLI processes. It has nothing to do with parsing a
// TestConfiguration (the YAML test plan) — that remains an external,
// narrow-interface concern per the engine's scope.
package appconfig

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the ambient process configuration.
type Config struct {
	LogLevel string
	Worker   WorkerConfig
	Metrics  MetricsConfig
	Output   OutputConfig
	Tracing  TracingConfig
}

// WorkerConfig governs the worker HTTP server and its heartbeat behaviour.
type WorkerConfig struct {
	Port              int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	UnhealthyErrors   int
}

// MetricsConfig governs the metrics core's result store and timeline.
type MetricsConfig struct {
	ResultCap      int
	TimelineBucket time.Duration
	Percentiles    []float64
}

// OutputConfig governs the output pipeline's batching.
type OutputConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// TracingConfig governs the optional OpenTelemetry tracer.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

// Load builds a Config from defaults, environment variables (LOADFORGE_*)
// and an optional config file, in that precedence order — mirroring the
// defaults-then-env-then-file pattern used elsewhere in this codebase.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")

	v.SetDefault("worker.port", 8080)
	v.SetDefault("worker.heartbeat_interval", "5s")
	v.SetDefault("worker.heartbeat_timeout", "60s")
	v.SetDefault("worker.unhealthy_errors", 10)

	v.SetDefault("metrics.result_cap", 50000)
	v.SetDefault("metrics.timeline_bucket", "5s")
	v.SetDefault("metrics.percentiles", []float64{50, 90, 95, 99})

	v.SetDefault("output.batch_size", 100)
	v.SetDefault("output.flush_interval", "2s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "loadforge")

	v.SetEnvPrefix("LOADFORGE")
	v.AutomaticEnv()

	v.SetConfigName("loadforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // config file is optional

	heartbeatInterval, _ := time.ParseDuration(v.GetString("worker.heartbeat_interval"))
	heartbeatTimeout, _ := time.ParseDuration(v.GetString("worker.heartbeat_timeout"))
	timelineBucket, _ := time.ParseDuration(v.GetString("metrics.timeline_bucket"))
	flushInterval, _ := time.ParseDuration(v.GetString("output.flush_interval"))

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Worker: WorkerConfig{
			Port:              v.GetInt("worker.port"),
			HeartbeatInterval: heartbeatInterval,
			HeartbeatTimeout:  heartbeatTimeout,
			UnhealthyErrors:   v.GetInt("worker.unhealthy_errors"),
		},
		Metrics: MetricsConfig{
			ResultCap:      v.GetInt("metrics.result_cap"),
			TimelineBucket: timelineBucket,
			Percentiles:    v.GetFloat64Slice("metrics.percentiles"),
		},
		Output: OutputConfig{
			BatchSize:     v.GetInt("output.batch_size"),
			FlushInterval: flushInterval,
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			ServiceName: v.GetString("tracing.service_name"),
		},
	}
	return cfg, nil
}
