package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-sourced setting for both the CRUD server
// (cmd/api) and the batch pipeline worker (cmd/worker).
type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	// Upstream auth proxy token exchange (out of scope per spec — only the
	// endpoint and circuit-breaker knobs belong to this config).
	UpstreamAuthTokenURL  string        `mapstructure:"UPSTREAM_AUTH_TOKEN_URL"`
	UpstreamAuthClientID  string        `mapstructure:"UPSTREAM_AUTH_CLIENT_ID"`
	UpstreamAuthTimeout   time.Duration `mapstructure:"UPSTREAM_AUTH_TIMEOUT"`
	CircuitBreakerTimeout time.Duration `mapstructure:"CIRCUIT_BREAKER_TIMEOUT"`

	// Object store (C3/C8).
	SourceBucketName string `mapstructure:"SOURCE_BUCKET_NAME"`
	AckBucketName    string `mapstructure:"ACK_BUCKET_NAME"`
	ConfigBucketName string `mapstructure:"CONFIG_BUCKET_NAME"`
	AWSRegion        string `mapstructure:"AWS_REGION"`

	// Queues / shard stream (C1 file queue, C6 row-envelope FIFO).
	FileQueueURL    string `mapstructure:"FILE_QUEUE_URL"`
	ShardQueueURLFmt string `mapstructure:"SHARD_QUEUE_URL_FORMAT"`

	// Reference cache (C2).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	RedisDB   int    `mapstructure:"REDIS_DB"`

	// Audit / delta tables (C1 / C9) — table names, Postgres-backed.
	AuditTableName string        `mapstructure:"AUDIT_TABLE_NAME"`
	DeltaTableName string        `mapstructure:"DELTA_TABLE_NAME"`
	AuditTTLDays   int           `mapstructure:"AUDIT_TTL_DAYS"`
	WatchdogTimeout time.Duration `mapstructure:"WATCHDOG_TIMEOUT"`

	// Retry/backoff shared across all outbound I/O (§5).
	RetryMaxAttempts int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialWait time.Duration `mapstructure:"RETRY_INITIAL_WAIT"`
	RetryMaxWait     time.Duration `mapstructure:"RETRY_MAX_WAIT"`

	// Log shipping (§6 "Splunk Firehose stream").
	SplunkHECURL   string `mapstructure:"SPLUNK_HEC_URL"`
	SplunkHECToken string `mapstructure:"SPLUNK_HEC_TOKEN"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("AWS_REGION", "eu-west-2")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AUDIT_TABLE_NAME", "audit_entries")
	v.SetDefault("DELTA_TABLE_NAME", "delta_entries")
	v.SetDefault("AUDIT_TTL_DAYS", 30)
	v.SetDefault("WATCHDOG_TIMEOUT", "15m")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_INITIAL_WAIT", "200ms")
	v.SetDefault("RETRY_MAX_WAIT", "10s")
	v.SetDefault("UPSTREAM_AUTH_TIMEOUT", "5s")
	v.SetDefault("CIRCUIT_BREAKER_TIMEOUT", "30s")
	v.SetDefault("SHARD_QUEUE_URL_FORMAT", "")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"UPSTREAM_AUTH_TOKEN_URL", "UPSTREAM_AUTH_CLIENT_ID", "UPSTREAM_AUTH_TIMEOUT",
		"CIRCUIT_BREAKER_TIMEOUT", "SOURCE_BUCKET_NAME", "ACK_BUCKET_NAME",
		"CONFIG_BUCKET_NAME", "AWS_REGION", "FILE_QUEUE_URL", "SHARD_QUEUE_URL_FORMAT",
		"REDIS_ADDR", "REDIS_DB", "AUDIT_TABLE_NAME", "DELTA_TABLE_NAME",
		"AUDIT_TTL_DAYS", "WATCHDOG_TIMEOUT", "RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_WAIT",
		"RETRY_MAX_WAIT", "SPLUNK_HEC_URL", "SPLUNK_HEC_TOKEN", "RATE_LIMIT_RPS",
		"RATE_LIMIT_BURST", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	} {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode, auth checks are relaxed")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
