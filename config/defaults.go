// =============================================================================
// Leadflow default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		JWT:      DefaultJWTConfig(),
		Engine:   DefaultEngineConfig(),
		Budget:   DefaultBudgetConfig(),
		Acquire:  DefaultAcquireConfig(),
		Log:      DefaultLogConfig(),
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
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		CORSAllowedOrigins: []string{
			"http://localhost:3000",
		},
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "leadflow",
		Password:        "",
		Name:            "leadflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultJWTConfig returns the default JWT configuration. The secret is
// intentionally empty and must be provided via config or environment.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Secret: "",
		Issuer: "leadflow",
		TTL:    24 * time.Hour,
	}
}

// DefaultEngineConfig returns the default scheduler configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:      time.Minute,
		GhostScanInterval: 15 * time.Minute,
		AcquireInterval:   time.Hour,
		WorkerCount:       8,
		LeaseTTL:          2 * time.Minute,
		DispatchTimeout:   30 * time.Second,
		MaxSkipDepth:      25,
		BatchSize:         200,
		MaxSendAttempts:   3,
		RetryBackoff:      5 * time.Minute,
	}
}

// DefaultBudgetConfig returns the default rate budget limits.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		CampaignDailyLimit:  100,
		CampaignHourlyLimit: 20,
		TenantEmailsPerDay:  100,
		TenantCallsPerDay:   50,
	}
}

// DefaultAcquireConfig returns the default lead acquisition configuration.
func DefaultAcquireConfig() AcquireConfig {
	return AcquireConfig{
		PageSize:             25,
		MaxPagesPerRun:       4,
		ScoreThreshold:       60,
		MaxConsecutiveErrors: 3,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
