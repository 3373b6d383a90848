// =============================================================================
// 📦 flowstream configuration loader
// =============================================================================
// YAML file plus environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FLOWSTREAM").
//	    Load()
//
// Priority: defaults → YAML file → environment
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowstream/streaming"
)

// =============================================================================
// 🎯 Configuration structures
// =============================================================================

// Config is the complete flowstream configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server" env:"SERVER"`
	Streaming StreamingConfig `yaml:"streaming" json:"streaming" env:"STREAMING"`
	Log       LogConfig       `yaml:"log" json:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
	Results   ResultsConfig   `yaml:"results" json:"results" env:"RESULTS"`
}

// ServerConfig configures the HTTP and metrics listeners.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MaxConnections caps concurrent connections. Zero means no cap.
	MaxConnections int     `yaml:"max_connections" json:"max_connections" env:"MAX_CONNECTIONS"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// MessageTimeout abandons a root message that has not settled in time.
	MessageTimeout time.Duration `yaml:"message_timeout" json:"message_timeout" env:"MESSAGE_TIMEOUT"`
	JWT            JWTConfig     `yaml:"jwt" json:"jwt" env:"JWT"`
	// TLSCertFile and TLSKeyFile switch the API listener to HTTPS when both
	// are set.
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// JWTConfig enables bearer-token authentication on the message API. With
// neither a secret nor a public key configured, requests are not
// authenticated.
type JWTConfig struct {
	// Secret verifies HS256 tokens.
	Secret string `yaml:"secret" json:"-" env:"SECRET"`
	// PublicKey is a PEM encoded RSA key that verifies RS256 tokens.
	PublicKey string `yaml:"public_key" json:"-" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// Enabled reports whether any verification key is configured.
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// StreamingConfig configures the repeatable-streaming engine.
type StreamingConfig struct {
	// Strategy is repeatable-in-memory or non-repeatable.
	Strategy            string `yaml:"strategy" json:"strategy" env:"STRATEGY"`
	InitialBufferSize   int64  `yaml:"initial_buffer_size" json:"initial_buffer_size" env:"INITIAL_BUFFER_SIZE"`
	BufferSizeIncrement int64  `yaml:"buffer_size_increment" json:"buffer_size_increment" env:"BUFFER_SIZE_INCREMENT"`
	// MaxInMemorySize is the buffer ceiling; 0 means unbounded.
	MaxInMemorySize int64  `yaml:"max_in_memory_size" json:"max_in_memory_size" env:"MAX_IN_MEMORY_SIZE"`
	BufferUnit      string `yaml:"buffer_unit" json:"buffer_unit" env:"BUFFER_UNIT"`
	EagerRead       bool   `yaml:"eager_read" json:"eager_read" env:"EAGER_READ"`
	// CompletedRootsRetained bounds how many completed root ids the registry
	// remembers to reject late registrations. It must be positive: without it
	// a provider registered after its root completed is never disposed.
	CompletedRootsRetained int `yaml:"completed_roots_retained" json:"completed_roots_retained" env:"COMPLETED_ROOTS_RETAINED"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" json:"level" env:"LEVEL"`
	Format           string   `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
	Insecure     bool    `yaml:"insecure" json:"insecure" env:"INSECURE"`
}

// ResultsConfig configures where outcomes of asynchronously dispatched
// messages are kept.
type ResultsConfig struct {
	// Backend is "memory", "redis" or "sql".
	Backend  string        `yaml:"backend" json:"backend" env:"BACKEND"`
	TTL      time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	Addr     string        `yaml:"addr" json:"addr" env:"ADDR"`
	Password string        `yaml:"password" json:"-" env:"PASSWORD"`
	DB       int           `yaml:"db" json:"db" env:"DB"`
	PoolSize int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// TLS dials Redis over TLS.
	TLS bool `yaml:"tls" json:"tls" env:"TLS"`

	// Driver is sqlite, postgres or mysql. Only used by the sql backend.
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" json:"-" env:"DSN"`
	// AutoMigrate applies pending schema migrations when the store opens.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// SQLDrivers lists the drivers the sql results backend accepts.
var SQLDrivers = []string{"sqlite", "postgres", "mysql"}

// BufferConfig converts the streaming section to an engine configuration.
func (s StreamingConfig) BufferConfig() streaming.BufferConfig {
	return streaming.BufferConfig{
		InitialSize: s.InitialBufferSize,
		Increment:   s.BufferSizeIncrement,
		MaxSize:     s.MaxInMemorySize,
		Unit:        streaming.DataUnit(s.BufferUnit),
		EagerRead:   s.EagerRead,
	}
}

// ParsedStrategy returns the configured strategy.
func (s StreamingConfig) ParsedStrategy() (streaming.Strategy, error) {
	return streaming.ParseStrategy(s.Strategy)
}

// Validate checks the streaming section against the engine's rules.
func (s StreamingConfig) Validate() error {
	var errs []error
	if _, err := s.ParsedStrategy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.BufferConfig().Normalize(); err != nil {
		errs = append(errs, err)
	}
	if s.CompletedRootsRetained <= 0 {
		errs = append(errs, errors.New("completed_roots_retained must be positive"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 Loader
// =============================================================================

// Loader loads configuration (builder style).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the FLOWSTREAM env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWSTREAM",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration: defaults → YAML file → environment → validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively following env tags.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 Helpers
// =============================================================================

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, "max_connections must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}
	if err := c.Streaming.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}
	switch c.Results.Backend {
	case "memory":
	case "redis":
		if c.Results.Addr == "" {
			errs = append(errs, "results.addr is required for the redis backend")
		}
	case "sql":
		if !slices.Contains(SQLDrivers, c.Results.Driver) {
			errs = append(errs, fmt.Sprintf("unknown results driver %q", c.Results.Driver))
		}
		if c.Results.DSN == "" {
			errs = append(errs, "results.dsn is required for the sql backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown results backend %q", c.Results.Backend))
	}
	if c.Results.TTL < 0 {
		errs = append(errs, "results.ttl must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
