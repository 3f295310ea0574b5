// Package config loads the tern configuration from TERN_* environment
// variables and an optional config file on top of the tier defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/logging"
)

// EnvPrefix is prepended to every key: http_port is read from TERN_HTTP_PORT.
const EnvPrefix = "TERN"

// MaxOutputPrecision bounds the number of payout decimal places.
const MaxOutputPrecision = 6

// Load builds the configuration. The tier (TERN_TIER) selects the defaults,
// then the config file, if path is not empty, and the environment override
// them in that order.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{
		Tier: domain.Tier(strings.ToLower(v.GetString("tier"))),
		Server: domain.ServerConfig{
			Host:         v.GetString("http_host"),
			Port:         v.GetInt("http_port"),
			ReadTimeout:  v.GetInt("http_read_timeout"),
			WriteTimeout: v.GetInt("http_write_timeout"),
		},
		Engine: domain.EngineConfig{
			Workers:         v.GetInt("workers"),
			OutputPrecision: v.GetInt("output_precision"),
			AsyncWorker:     v.GetBool("async_worker"),
		},
		Catalog: domain.CatalogConfig{
			File:            v.GetString("contracts_file"),
			RefreshSchedule: v.GetString("catalog_refresh"),
			CacheTTL:        v.GetInt("catalog_cache_ttl"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           strings.ToLower(v.GetString("db_driver")),
			SQLitePath:       v.GetString("sqlite_path"),
			PostgresHost:     v.GetString("postgres_host"),
			PostgresPort:     v.GetInt("postgres_port"),
			PostgresUser:     v.GetString("postgres_user"),
			PostgresPassword: v.GetString("postgres_password"),
			PostgresDB:       v.GetString("postgres_db"),
			PostgresSSLMode:  v.GetString("postgres_sslmode"),
		},
		Cache: domain.CacheConfig{
			Type:           strings.ToLower(v.GetString("cache_type")),
			LocalMaxSize:   v.GetInt("cache_local_size"),
			LocalTTL:       v.GetDuration("cache_local_ttl"),
			RedisAddr:      v.GetString("redis_addr"),
			RedisPassword:  v.GetString("redis_password"),
			RedisDB:        v.GetInt("redis_db"),
			EnableTwoPhase: v.GetBool("cache_two_phase"),
		},
		EventBus: domain.EventBusConfig{
			Type:              strings.ToLower(v.GetString("bus_type")),
			ChannelBufferSize: v.GetInt("bus_buffer_size"),
			NATSUrl:           v.GetString("nats_url"),
			NATSToken:         v.GetString("nats_token"),
			NATSMaxReconnects: v.GetInt("nats_max_reconnects"),
			NATSReconnectWait: v.GetInt("nats_reconnect_wait"),
			AMQPUrl:           v.GetString("amqp_url"),
			AMQPExchange:      v.GetString("amqp_exchange"),
		},
		Logging: domain.LoggingConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Tracing: domain.TracingConfig{
			Enabled:     v.GetBool("tracing_enabled"),
			ServiceName: v.GetString("service_name"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("http_host", c.Server.Host)
	v.SetDefault("http_port", c.Server.Port)
	v.SetDefault("http_read_timeout", c.Server.ReadTimeout)
	v.SetDefault("http_write_timeout", c.Server.WriteTimeout)

	v.SetDefault("workers", c.Engine.Workers)
	v.SetDefault("output_precision", c.Engine.OutputPrecision)
	v.SetDefault("async_worker", c.Engine.AsyncWorker)

	v.SetDefault("contracts_file", c.Catalog.File)
	v.SetDefault("catalog_refresh", c.Catalog.RefreshSchedule)
	v.SetDefault("catalog_cache_ttl", c.Catalog.CacheTTL)

	v.SetDefault("db_driver", c.Repository.Driver)
	v.SetDefault("sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("postgres_host", c.Repository.PostgresHost)
	v.SetDefault("postgres_port", c.Repository.PostgresPort)
	v.SetDefault("postgres_user", c.Repository.PostgresUser)
	v.SetDefault("postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("postgres_db", c.Repository.PostgresDB)
	v.SetDefault("postgres_sslmode", c.Repository.PostgresSSLMode)

	v.SetDefault("cache_type", c.Cache.Type)
	v.SetDefault("cache_local_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache_local_ttl", c.Cache.LocalTTL)
	v.SetDefault("redis_addr", c.Cache.RedisAddr)
	v.SetDefault("redis_password", c.Cache.RedisPassword)
	v.SetDefault("redis_db", c.Cache.RedisDB)
	v.SetDefault("cache_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("bus_type", c.EventBus.Type)
	v.SetDefault("bus_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("nats_url", c.EventBus.NATSUrl)
	v.SetDefault("nats_token", c.EventBus.NATSToken)
	v.SetDefault("nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("nats_reconnect_wait", c.EventBus.NATSReconnectWait)
	v.SetDefault("amqp_url", c.EventBus.AMQPUrl)
	v.SetDefault("amqp_exchange", c.EventBus.AMQPExchange)

	v.SetDefault("log_level", c.Logging.Level)
	v.SetDefault("log_format", c.Logging.Format)

	v.SetDefault("tracing_enabled", c.Tracing.Enabled)
	v.SetDefault("service_name", c.Tracing.ServiceName)
}

// Validate checks ranges and backend names. All problems are reported together.
func Validate(c *domain.Config) error {
	var errs []error

	if c.Tier != domain.TierCommunity && c.Tier != domain.TierPro {
		errs = append(errs, fmt.Errorf("unknown tier %q", c.Tier))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range 1-65535", c.Server.Port))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Engine.Workers))
	}
	if c.Engine.OutputPrecision < 0 || c.Engine.OutputPrecision > MaxOutputPrecision {
		errs = append(errs, fmt.Errorf("output precision %d out of range 0-%d", c.Engine.OutputPrecision, MaxOutputPrecision))
	}
	if c.Catalog.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("catalog cache ttl must not be negative, got %d", c.Catalog.CacheTTL))
	}

	switch c.Repository.Driver {
	case "sqlite":
		if c.Repository.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path is required"))
		}
	case "postgres":
		if c.Repository.PostgresHost == "" {
			errs = append(errs, errors.New("postgres host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.Repository.Driver))
	}

	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q", c.Cache.Type))
	}

	switch c.EventBus.Type {
	case "channel":
	case "nats":
		if c.EventBus.NATSUrl == "" {
			errs = append(errs, errors.New("nats url is required"))
		}
	case "rabbitmq":
		if c.EventBus.AMQPUrl == "" {
			errs = append(errs, errors.New("amqp url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus type %q", c.EventBus.Type))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// CacheTTL returns the catalog snapshot TTL as a duration.
func CacheTTL(c *domain.Config) time.Duration {
	return time.Duration(c.Catalog.CacheTTL) * time.Second
}
