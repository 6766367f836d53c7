package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// LoadConfig loads the configuration from file and environment variables. Extra search
// paths are tried before the defaults.
func LoadConfig(log logger.Logger, paths ...string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	// Load from config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("/etc/tsa-broker/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn(context.Background(), "No config file found, using defaults and environment")
	} else {
		log.Info(context.Background(), "Loaded config file", logger.String("file", v.ConfigFileUsed()))
	}

	// Load from environment variables
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch re-decodes the configuration whenever the config file changes and hands the
// result to onChange. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log logger.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Error(context.Background(), "Ignoring invalid config change", err, logger.String("file", e.Name))
			return
		}
		log.Info(context.Background(), "Config reloaded", logger.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("scheduler.max_queue_size", constants.DefaultMaxQueueSize)
	v.SetDefault("scheduler.max_concurrent_dispatch", constants.DefaultMaxConcurrentDispatch)
	v.SetDefault("scheduler.queue_ttl", constants.DefaultQueueTTL)
	v.SetDefault("scheduler.drain_interval", constants.DefaultDrainInterval)
	v.SetDefault("scheduler.retry_after", constants.DefaultRetryAfter)

	v.SetDefault("engine.max_attempts", constants.DefaultMaxAttempts)
	v.SetDefault("engine.call_timeout", constants.DefaultCallTimeout)

	v.SetDefault("health.probe_interval", constants.DefaultProbeInterval)
	v.SetDefault("health.probe_timeout", constants.DefaultProbeTimeout)
	v.SetDefault("health.degrade_after", constants.DefaultDegradeAfter)
	v.SetDefault("health.unhealthy_after", constants.DefaultUnhealthyAfter)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.ip_rps", 20)
	v.SetDefault("rate_limit.ip_burst", 40)
	v.SetDefault("rate_limit.tenant_per_minute", constants.DefaultTenantRatePerMinute)
	v.SetDefault("rate_limit.sweep_interval", "1m")
	v.SetDefault("rate_limit.idle_ttl", "10m")
	v.SetDefault("rate_limit.key_prefix", "tsa:ratelimit")

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.lock_ttl", "60s")
	v.SetDefault("idempotency.result_ttl", "24h")
	v.SetDefault("idempotency.key_prefix", "tsa:idem")

	v.SetDefault("identity.backend", "static")
	v.SetDefault("identity.cache_ttl", "30s")

	v.SetDefault("admin.issuer", constants.ServiceName)
	v.SetDefault("admin.audience", "tsa-admin")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("receipts.enabled", true)
	v.SetDefault("receipts.driver", "sqlite")
	v.SetDefault("receipts.dsn", "file:receipts.db?cache=shared")

	v.SetDefault("kafka.audit_topic", "tsa.issuance")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "200ms")
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.tenant_events_topic", "tsa.tenants")
	v.SetDefault("kafka.consumer_group", "tsa-broker-identity")

	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.cache_ttl", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 0.1)
}
