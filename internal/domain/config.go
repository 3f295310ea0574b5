package domain

import "time"

// Config holds the complete tern configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which storage, cache and bus backends are used
	Tier Tier `json:"tier"`

	// Engine settings
	Engine EngineConfig `json:"engine"`

	// Catalog source settings
	Catalog CatalogConfig `json:"catalog"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// EngineConfig holds evaluation settings.
type EngineConfig struct {
	// Workers bounds concurrent coupon evaluation within a batch
	Workers int `json:"workers"`

	// OutputPrecision is the number of decimal places payouts are rounded to
	OutputPrecision int `json:"outputPrecision"`

	// AsyncWorker subscribes to batch submissions on the event bus
	AsyncWorker bool `json:"asyncWorker"`
}

// CatalogConfig holds contract catalog source settings.
type CatalogConfig struct {
	// File seeds the repository from a JSON contracts file on startup
	File string `json:"file"`

	// RefreshSchedule is a cron spec for reloading the catalog; empty disables it
	RefreshSchedule string `json:"refreshSchedule"`

	// CacheTTL is how long a catalog snapshot stays cached, in seconds
	CacheTTL int `json:"cacheTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings. The exporter endpoint comes
// from the standard OTEL_EXPORTER_OTLP_* variables.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite, an in-process cache and channels
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			Workers:         10,
			OutputPrecision: 2,
			AsyncWorker:     true,
		},
		Catalog: CatalogConfig{
			CacheTTL: 300,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./tern.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "tern",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "tern",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   100,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		AMQPExchange:      "tern",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
