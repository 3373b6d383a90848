// =============================================================================
// 📦 flowstream default configuration
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/flowstream/streaming"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Streaming: DefaultStreamingConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Results:   DefaultResultsConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxConnections:  1024,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MessageTimeout:  time.Minute,
	}
}

// DefaultStreamingConfig returns the engine defaults: 8 KB initial, 8 KB
// increment, 1 MB ceiling.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		Strategy:               string(streaming.StrategyRepeatableInMemory),
		InitialBufferSize:      streaming.DefaultInitialBufferSize,
		BufferSizeIncrement:    streaming.DefaultBufferSizeIncrement,
		MaxInMemorySize:        streaming.DefaultMaxInMemorySize,
		BufferUnit:             string(streaming.UnitByte),
		CompletedRootsRetained: streaming.DefaultCompletedRetention,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowstream",
		SampleRate:   0.1,
		Insecure:     true,
	}
}

// DefaultResultsConfig keeps dispatch results in memory for ten minutes.
func DefaultResultsConfig() ResultsConfig {
	return ResultsConfig{
		Backend:     "memory",
		TTL:         10 * time.Minute,
		Addr:        "localhost:6379",
		PoolSize:    10,
		Driver:      "sqlite",
		DSN:         "file:flowstream-results.db?_pragma=busy_timeout(5000)",
		AutoMigrate: true,
	}
}
