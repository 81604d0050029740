// =============================================================================
// Leadflow configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LEADFLOW").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete leadflow configuration.
type Config struct {
	// Server holds HTTP server settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database holds relational store settings.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis holds budget/lease store settings.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// JWT holds API authentication settings.
	JWT JWTConfig `yaml:"jwt" env:"JWT"`

	// Engine holds scheduler settings.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Budget holds rate budget fallback limits.
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// Acquire holds lead acquisition settings.
	Acquire AcquireConfig `yaml:"acquire" env:"ACQUIRE"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// HTTP listen port
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics listen port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Global rate limit, requests per second
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Rate limit burst
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// Origins allowed to call the API cross-site
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// Driver: postgres or sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// User
	User string `yaml:"user" env:"USER"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name, or file path for sqlite
	Name string `yaml:"name" env:"NAME"`
	// SSL mode
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Max open connections
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// Max idle connections
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Connection max lifetime
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig holds Redis settings for budgets, leases, and caches.
type RedisConfig struct {
	// Address
	Addr string `yaml:"addr" env:"ADDR"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Minimum idle connections
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// JWTConfig holds API authentication settings.
type JWTConfig struct {
	// Signing secret
	Secret string `yaml:"secret" env:"SECRET"`
	// Token issuer
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// Token lifetime
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// EngineConfig holds the outreach scheduler settings.
type EngineConfig struct {
	// Interval between scheduler ticks
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// Interval between ghost detection scans
	GhostScanInterval time.Duration `yaml:"ghost_scan_interval" env:"GHOST_SCAN_INTERVAL"`
	// Interval between lead acquisition runs
	AcquireInterval time.Duration `yaml:"acquire_interval" env:"ACQUIRE_INTERVAL"`
	// Dispatch worker pool size
	WorkerCount int `yaml:"worker_count" env:"WORKER_COUNT"`
	// Per-lead lease lifetime
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	// Timeout for a single channel dispatch
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT"`
	// Max consecutive condition steps skipped in one pass
	MaxSkipDepth int `yaml:"max_skip_depth" env:"MAX_SKIP_DEPTH"`
	// Max leads picked up per campaign per tick
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// Send attempts per step before its failure is permanent
	MaxSendAttempts int `yaml:"max_send_attempts" env:"MAX_SEND_ATTEMPTS"`
	// Wait before the first resend of a failed step, doubled per attempt
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
}

// BudgetConfig holds fallback rate budget limits, applied when a
// campaign or tenant record leaves a limit unset.
type BudgetConfig struct {
	// Campaign daily send limit
	CampaignDailyLimit int `yaml:"campaign_daily_limit" env:"CAMPAIGN_DAILY_LIMIT"`
	// Campaign hourly send limit
	CampaignHourlyLimit int `yaml:"campaign_hourly_limit" env:"CAMPAIGN_HOURLY_LIMIT"`
	// Tenant daily email limit
	TenantEmailsPerDay int `yaml:"tenant_emails_per_day" env:"TENANT_EMAILS_PER_DAY"`
	// Tenant daily call limit
	TenantCallsPerDay int `yaml:"tenant_calls_per_day" env:"TENANT_CALLS_PER_DAY"`
}

// AcquireConfig holds lead acquisition settings.
type AcquireConfig struct {
	// Provider page size
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	// Max pages fetched per run per profile
	MaxPagesPerRun int `yaml:"max_pages_per_run" env:"MAX_PAGES_PER_RUN"`
	// Minimum fit score for imported leads, 0-100
	ScoreThreshold int `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	// Consecutive provider failures before a tracking is marked failed
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" env:"MAX_CONSECUTIVE_ERRORS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with caller info
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Attach stack traces to error entries
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads configuration using the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LEADFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a configuration validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads configuration.
// Precedence: defaults -> YAML file -> environment variables.
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

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file falls back to defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides configuration from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively sets struct fields from environment variables.
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

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue parses and assigns a string value to a struct field.
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
		// Comma separated string slices only.
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
// Helpers
// =============================================================================

// MustLoad loads configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if c.Engine.TickInterval <= 0 {
		errs = append(errs, "tick_interval must be positive")
	}
	if c.Engine.WorkerCount <= 0 {
		errs = append(errs, "worker_count must be positive")
	}
	if c.Engine.LeaseTTL <= 0 {
		errs = append(errs, "lease_ttl must be positive")
	}
	if c.Engine.MaxSkipDepth <= 0 {
		errs = append(errs, "max_skip_depth must be positive")
	}
	if c.Engine.MaxSendAttempts <= 0 {
		errs = append(errs, "max_send_attempts must be positive")
	}
	if c.Engine.RetryBackoff <= 0 {
		errs = append(errs, "retry_backoff must be positive")
	}

	if c.Budget.CampaignDailyLimit <= 0 || c.Budget.CampaignHourlyLimit <= 0 {
		errs = append(errs, "budget limits must be positive")
	}

	if c.Acquire.ScoreThreshold < 0 || c.Acquire.ScoreThreshold > 100 {
		errs = append(errs, "score_threshold must be between 0 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
