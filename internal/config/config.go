package config

import (
	"fmt"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/pkg/utils"
)

// Config holds the application's configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Health      HealthConfig      `mapstructure:"health"`
	Providers   []ProviderConfig  `mapstructure:"providers" validate:"dive"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Receipts    ReceiptsConfig    `mapstructure:"receipts"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	GRPCPort       int           `mapstructure:"grpc_port" validate:"gte=0,lte=65535"`
	Environment    string        `mapstructure:"environment" validate:"oneof=development staging production"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	EnablePprof    bool          `mapstructure:"enable_pprof"`
}

// HTTPAddress returns the listen address of the HTTP server.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SchedulerConfig struct {
	MaxQueueSize          int           `mapstructure:"max_queue_size" validate:"gte=0"`
	MaxConcurrentDispatch int           `mapstructure:"max_concurrent_dispatch" validate:"gte=1"`
	QueueTTL              time.Duration `mapstructure:"queue_ttl" validate:"gt=0"`
	DrainInterval         time.Duration `mapstructure:"drain_interval" validate:"gt=0"`
	RetryAfter            time.Duration `mapstructure:"retry_after" validate:"gt=0"`
}

type EngineConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
}

type HealthConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval" validate:"gt=0"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	DegradeAfter   int           `mapstructure:"degrade_after" validate:"gte=1"`
	UnhealthyAfter int           `mapstructure:"unhealthy_after" validate:"gte=1"`
}

// ProviderConfig describes one upstream RFC 3161 timestamp authority.
type ProviderConfig struct {
	ID                      string        `mapstructure:"id" validate:"required"`
	URL                     string        `mapstructure:"url" validate:"required,url"`
	Priority                int           `mapstructure:"priority"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	HashAlgorithms          []string      `mapstructure:"hash_algorithms" validate:"dive,oid"`
	Policies                []string      `mapstructure:"policies" validate:"dive,oid"`
	SupportsPolicySelection bool          `mapstructure:"supports_policy_selection"`
	CredentialPath          string        `mapstructure:"credential_path"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	IPRPS           float64       `mapstructure:"ip_rps"`
	IPBurst         int           `mapstructure:"ip_burst"`
	TenantPerMinute int64         `mapstructure:"tenant_per_minute"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

type IdempotencyConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// TenantConfig is a statically configured tenant, used by the "static" identity backend.
type TenantConfig struct {
	ID                string   `mapstructure:"id" validate:"required"`
	APIKeySHA256      string   `mapstructure:"api_key_sha256" validate:"required,len=64,hexadecimal"`
	Permissions       []string `mapstructure:"permissions"`
	RateLimitPerMin   int64    `mapstructure:"rate_limit_per_minute"`
	AllowedPolicies   []string `mapstructure:"allowed_policies" validate:"dive,oid"`
	DefaultPolicy     string   `mapstructure:"default_policy" validate:"omitempty,oid"`
	AllowedHashAlgs   []string `mapstructure:"allowed_hash_algorithms" validate:"dive,oid"`
	MaxRequestsPerDay int64    `mapstructure:"max_requests_per_day"`
}

type IdentityConfig struct {
	Backend     string         `mapstructure:"backend" validate:"oneof=static postgres"`
	CacheTTL    time.Duration  `mapstructure:"cache_ttl"`
	Tenants     []TenantConfig `mapstructure:"tenants" validate:"dive"`
	TenantsFile string         `mapstructure:"tenants_file"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type RedisConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Mode         string   `mapstructure:"mode" validate:"omitempty,oneof=standalone cluster sentinel"`
	Addresses    []string `mapstructure:"addresses"`
	MasterName   string   `mapstructure:"master_name"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type ReceiptsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN     string `mapstructure:"dsn"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AuditTopic   string        `mapstructure:"audit_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	SigningKey   string        `mapstructure:"signing_key"`

	// TenantEventsTopic carries tenant change notifications that flush the identity cache.
	TenantEventsTopic string `mapstructure:"tenant_events_topic"`
	ConsumerGroup     string `mapstructure:"consumer_group"`
}

type VaultConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Token     string        `mapstructure:"token"`
	MountPath string        `mapstructure:"mount_path"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := utils.NewStructValidator().ValidateStruct(c); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("invalid configuration: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid configuration: kafka.brokers is required when kafka is enabled")
	}
	if c.Idempotency.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("invalid configuration: idempotency requires redis")
	}
	return nil
}
