package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Dispatch       DispatchConfig
	Lifecycle      LifecycleConfig
	Moderation     ModerationConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MongoDB        MongoDBConfig
	RunMigrations  bool   `mapstructure:"run_migrations"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers       []string    `mapstructure:"brokers"`
	GroupID       string      `mapstructure:"group_id"`
	DLQTopic      string      `mapstructure:"dlq_topic"`
	FromBeginning bool        `mapstructure:"from_beginning"`
	Retry         RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DispatchConfig controls the idempotent dispatch layer. Store is "memory"
// (bounded LRU, process-local) or "redis" (shared across consumer replicas).
type DispatchConfig struct {
	Store        string `mapstructure:"store"`
	Capacity     int    `mapstructure:"capacity"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnStoreError string `mapstructure:"on_store_error"`
}

type LifecycleConfig struct {
	PublishTTLDays     int `mapstructure:"publish_ttl_days"`
	ExpirySweepSeconds int `mapstructure:"expiry_sweep_seconds"`
	ExpirySweepBatch   int `mapstructure:"expiry_sweep_batch"`
}

type ModerationConfig struct {
	AutoApproveThreshold int             `mapstructure:"auto_approve_threshold"`
	AutoRejectThreshold  int             `mapstructure:"auto_reject_threshold"`
	ClaimTimeoutMinutes  int             `mapstructure:"claim_timeout_minutes"`
	Reaper               ReaperConfig    `mapstructure:"reaper"`
	FlagRules            FlagRulesConfig `mapstructure:"flag_rules"`
}

type ReaperConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

type FlagRulesConfig struct {
	ReloadIntervalSeconds int    `mapstructure:"reload_interval_seconds"`
	OnError               string `mapstructure:"on_error"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Ratio float64 `mapstructure:"ratio"`
}
