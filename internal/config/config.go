package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server struct {
		Port           int    `mapstructure:"port" validate:"min=1,max=65535"`
		Host           string `mapstructure:"host"`
		Mode           string `mapstructure:"mode" validate:"oneof=debug release test"`
		ReadTimeout    string `mapstructure:"read_timeout"`
		WriteTimeout   string `mapstructure:"write_timeout"`
		IdleTimeout    string `mapstructure:"idle_timeout"`
		MaxHeaderBytes int    `mapstructure:"max_header_bytes"`
		EnableGzip     bool   `mapstructure:"enable_gzip"`
		EnableCORS     bool   `mapstructure:"enable_cors"`
	} `mapstructure:"server"`

	// Database backs both the Identifier Index (C2) and the Graph Tier
	// (C4) - both are relational stores over the same connection.
	Database struct {
		Type       string `mapstructure:"type" validate:"oneof=postgres sqlite"`
		PostgreSQL struct {
			DSN         string `mapstructure:"dsn"`
			MaxConns    int    `mapstructure:"max_connections" validate:"min=1"`
			MaxIdle     int    `mapstructure:"max_idle" validate:"min=1"`
			MaxLifetime string `mapstructure:"max_lifetime"`
			MaxIdleTime string `mapstructure:"max_idle_time"`
			AutoMigrate bool   `mapstructure:"auto_migrate"`
		} `mapstructure:"postgresql"`
		SQLite struct {
			Path        string `mapstructure:"path"`
			AutoMigrate bool   `mapstructure:"auto_migrate"`
		} `mapstructure:"sqlite"`
	} `mapstructure:"database"`

	NATS NATSConfig `mapstructure:"nats"`

	// Cache configures the Cache Tier (C3): ristretto sizing plus the
	// TTL class durations spec §4.3 defines per value kind.
	Cache struct {
		MaxCost       int64  `mapstructure:"max_cost"`
		NumCounters   int64  `mapstructure:"num_counters"`
		TTLMetadata   string `mapstructure:"ttl_metadata"`
		TTLSearch     string `mapstructure:"ttl_search"`
		TTLTaskStatus string `mapstructure:"ttl_task_status"`
		TTLSystem     string `mapstructure:"ttl_system"`
		TTLNegative   string `mapstructure:"ttl_negative"`
	} `mapstructure:"cache"`

	// Upstream configures the single scholarly-metadata Upstream Client
	// (C5) the gateway fronts.
	Upstream struct {
		BaseURL       string `mapstructure:"base_url"`
		APIKey        string `mapstructure:"api_key"`
		Timeout       string `mapstructure:"timeout"`
		RateLimitRPS  float64 `mapstructure:"rate_limit_rps"`
		RateLimitBurst int    `mapstructure:"rate_limit_burst"`
	} `mapstructure:"upstream"`

	// Freshness configures the Graph Tier's ensure_fresh gate (C4).
	Freshness struct {
		MaxAge string `mapstructure:"max_age"`
	} `mapstructure:"freshness"`

	Logging struct {
		Level     string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format    string `mapstructure:"format" validate:"oneof=json text"`
		AddSource bool   `mapstructure:"add_source"`
		Output    string `mapstructure:"output" validate:"oneof=stdout stderr file"`
		FilePath  string `mapstructure:"file_path"`
	} `mapstructure:"logging"`

	Security struct {
		APIKeys []string `mapstructure:"api_keys"`
		CORS    struct {
			Enabled        bool     `mapstructure:"enabled"`
			AllowedOrigins []string `mapstructure:"allowed_origins"`
			AllowedMethods []string `mapstructure:"allowed_methods"`
			AllowedHeaders []string `mapstructure:"allowed_headers"`
			MaxAge         string   `mapstructure:"max_age"`
		} `mapstructure:"cors"`
	} `mapstructure:"security"`

	Circuit struct {
		Enabled          bool   `mapstructure:"enabled"`
		FailureThreshold int    `mapstructure:"failure_threshold"`
		SuccessThreshold int    `mapstructure:"success_threshold"`
		Timeout          string `mapstructure:"timeout"`
		MaxRequests      int    `mapstructure:"max_requests"`
		SlidingWindow    string `mapstructure:"sliding_window"`
		MinRequestCount  int    `mapstructure:"min_request_count"`
	} `mapstructure:"circuit"`

	Retry struct {
		Enabled       bool    `mapstructure:"enabled"`
		MaxAttempts   int     `mapstructure:"max_attempts"`
		InitialDelay  string  `mapstructure:"initial_delay"`
		MaxDelay      string  `mapstructure:"max_delay"`
		BackoffFactor float64 `mapstructure:"backoff_factor"`
		Jitter        bool    `mapstructure:"jitter"`
	} `mapstructure:"retry"`

	Monitoring struct {
		Enabled     bool   `mapstructure:"enabled"`
		MetricsPort int    `mapstructure:"metrics_port"`
		HealthPath  string `mapstructure:"health_path"`
	} `mapstructure:"monitoring"`
}

// TimeoutConfig contains parsed timeout durations.
type TimeoutConfig struct {
	Default     time.Duration
	Database    time.Duration
	Upstream    time.Duration
	HealthCheck time.Duration
	Server      ServerTimeoutConfig
}

type ServerTimeoutConfig struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// LoadConfig loads configuration from the default path.
func LoadConfig() (*Config, error) {
	return LoadConfigFromPath("configs/config.yaml")
}

// LoadConfigFromPath loads configuration from environment variables and
// an optional config file.
func LoadConfigFromPath(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SCHOLARGATE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// GetTimeoutConfig returns parsed timeout durations.
func (c *Config) GetTimeoutConfig() (*TimeoutConfig, error) {
	serverRead, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid server read timeout: %w", err)
	}
	serverWrite, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid server write timeout: %w", err)
	}
	serverIdle, err := time.ParseDuration(c.Server.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid server idle timeout: %w", err)
	}
	upstreamTimeout, err := time.ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}

	return &TimeoutConfig{
		Default:     30 * time.Second,
		Database:    5 * time.Second,
		Upstream:    upstreamTimeout,
		HealthCheck: 5 * time.Second,
		Server: ServerTimeoutConfig{
			Read:  serverRead,
			Write: serverWrite,
			Idle:  serverIdle,
		},
	}, nil
}

func (c *Config) IsDevelopment() bool { return c.Server.Mode == "debug" }
func (c *Config) IsProduction() bool  { return c.Server.Mode == "release" }
func (c *Config) IsTest() bool        { return c.Server.Mode == "test" }

// CacheTTLs holds the Cache Tier's (C3) five TTL classes, parsed from
// their string config form.
type CacheTTLs struct {
	Metadata   time.Duration
	Search     time.Duration
	TaskStatus time.Duration
	System     time.Duration
	Negative   time.Duration
}

// CacheTTLs parses the configured TTL classes, falling back to the
// spec's defaults (1h/30m/10m/5m/10m) for any value that fails to
// parse so a cache config typo degrades rather than panics.
func (c *Config) CacheTTLs() CacheTTLs {
	parse := func(s string, fallback time.Duration) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return fallback
		}
		return d
	}
	return CacheTTLs{
		Metadata:   parse(c.Cache.TTLMetadata, time.Hour),
		Search:     parse(c.Cache.TTLSearch, 30*time.Minute),
		TaskStatus: parse(c.Cache.TTLTaskStatus, 10*time.Minute),
		System:     parse(c.Cache.TTLSystem, 5*time.Minute),
		Negative:   parse(c.Cache.TTLNegative, 10*time.Minute),
	}
}

// FreshnessMaxAge returns the parsed max-age for the Graph Tier's
// ensure_fresh gate, defaulting to 2400h (100 days) per spec §9.
func (c *Config) FreshnessMaxAge() time.Duration {
	d, err := time.ParseDuration(c.Freshness.MaxAge)
	if err != nil || d <= 0 {
		return 2400 * time.Hour
	}
	return d
}

// GetDatabaseConnectionString returns the appropriate database DSN/path.
func (c *Config) GetDatabaseConnectionString() (string, error) {
	switch c.Database.Type {
	case "postgres":
		if c.Database.PostgreSQL.DSN == "" {
			return "", fmt.Errorf("postgresql DSN is required when type is postgres")
		}
		return c.Database.PostgreSQL.DSN, nil
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return "", fmt.Errorf("sqlite path is required when type is sqlite")
		}
		return c.Database.SQLite.Path, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.postgresql.max_connections", 25)
	viper.SetDefault("database.postgresql.max_idle", 10)
	viper.SetDefault("database.postgresql.max_lifetime", "1h")
	viper.SetDefault("database.postgresql.max_idle_time", "30m")
	viper.SetDefault("database.postgresql.auto_migrate", true)
	viper.SetDefault("database.sqlite.path", "./scholargate.db")
	viper.SetDefault("database.sqlite.auto_migrate", true)

	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.cluster_id", "scholargate-cluster")
	viper.SetDefault("nats.client_id", "scholargate-gateway")
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", "2s")
	viper.SetDefault("nats.timeout", "5s")

	viper.SetDefault("nats.embedded.enabled", true)
	viper.SetDefault("nats.embedded.host", "0.0.0.0")
	viper.SetDefault("nats.embedded.port", 4222)
	viper.SetDefault("nats.embedded.log_level", "INFO")
	viper.SetDefault("nats.embedded.log_file", "")
	viper.SetDefault("nats.embedded.cluster.name", "scholargate-cluster")
	viper.SetDefault("nats.embedded.cluster.host", "0.0.0.0")
	viper.SetDefault("nats.embedded.cluster.port", 6222)
	viper.SetDefault("nats.embedded.cluster.routes", []string{})
	viper.SetDefault("nats.embedded.gateway.name", "scholargate-gateway")
	viper.SetDefault("nats.embedded.gateway.host", "0.0.0.0")
	viper.SetDefault("nats.embedded.gateway.port", 7222)
	viper.SetDefault("nats.embedded.monitor.host", "0.0.0.0")
	viper.SetDefault("nats.embedded.monitor.port", 8222)
	viper.SetDefault("nats.embedded.accounts.system_account", "$SYS")
	viper.SetDefault("nats.embedded.limits.max_connections", 10000)
	viper.SetDefault("nats.embedded.limits.max_payload", "1MB")
	viper.SetDefault("nats.embedded.limits.max_pending", "64MB")

	viper.SetDefault("nats.tls.enabled", false)
	viper.SetDefault("nats.jetstream.enabled", true)
	viper.SetDefault("nats.jetstream.domain", "")
	viper.SetDefault("nats.jetstream.store_dir", "./jetstream")
	viper.SetDefault("nats.jetstream.max_memory", "1GB")
	viper.SetDefault("nats.jetstream.max_storage", "10GB")
	viper.SetDefault("nats.jetstream.sync_interval", "2m")
	viper.SetDefault("nats.kv_store.enabled", false)
	viper.SetDefault("nats.object_store.enabled", false)

	viper.SetDefault("cache.max_cost", 1<<28) // ~256MB of ristretto cost budget
	viper.SetDefault("cache.num_counters", 1e7)
	viper.SetDefault("cache.ttl_metadata", "1h")
	viper.SetDefault("cache.ttl_search", "30m")
	viper.SetDefault("cache.ttl_task_status", "10m")
	viper.SetDefault("cache.ttl_system", "5m")
	viper.SetDefault("cache.ttl_negative", "10m")

	viper.SetDefault("upstream.base_url", "https://api.semanticscholar.org/graph/v1")
	viper.SetDefault("upstream.timeout", "15s")
	viper.SetDefault("upstream.rate_limit_rps", 10.0)
	viper.SetDefault("upstream.rate_limit_burst", 5)

	viper.SetDefault("freshness.max_age", "2400h")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("security.cors.enabled", true)
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
	viper.SetDefault("security.cors.max_age", "12h")

	viper.SetDefault("circuit.enabled", true)
	viper.SetDefault("circuit.failure_threshold", 5)
	viper.SetDefault("circuit.success_threshold", 3)
	viper.SetDefault("circuit.timeout", "60s")
	viper.SetDefault("circuit.max_requests", 10)
	viper.SetDefault("circuit.sliding_window", "60s")
	viper.SetDefault("circuit.min_request_count", 10)

	viper.SetDefault("retry.enabled", true)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay", "1s")
	viper.SetDefault("retry.max_delay", "30s")
	viper.SetDefault("retry.backoff_factor", 2.0)
	viper.SetDefault("retry.jitter", true)

	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)
	viper.SetDefault("monitoring.health_path", "/health")
}

// NATSConfig represents the task-queue broker configuration, unchanged in
// shape from the messaging package's own needs (kept generic so it also
// documents the embedded-server fallback).
type NATSConfig struct {
	URL           string   `mapstructure:"url" validate:"required,url"`
	ClusterID     string   `mapstructure:"cluster_id"`
	ClientID      string   `mapstructure:"client_id"`
	Subjects      []string `mapstructure:"subjects"`
	MaxReconnects int      `mapstructure:"max_reconnects"`
	ReconnectWait string   `mapstructure:"reconnect_wait"`
	Timeout       string   `mapstructure:"timeout"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	Token         string   `mapstructure:"token"`
	PingInterval  int      `mapstructure:"ping_interval"`
	MaxPingsOut   int      `mapstructure:"max_pings_out"`

	Embedded struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
		LogLevel string `mapstructure:"log_level"`
		LogFile  string `mapstructure:"log_file"`

		Cluster struct {
			Name   string   `mapstructure:"name"`
			Host   string   `mapstructure:"host"`
			Port   int      `mapstructure:"port"`
			Routes []string `mapstructure:"routes"`
		} `mapstructure:"cluster"`

		Gateway struct {
			Name string `mapstructure:"name"`
			Host string `mapstructure:"host"`
			Port int    `mapstructure:"port"`
		} `mapstructure:"gateway"`

		Monitor struct {
			Host string `mapstructure:"host"`
			Port int    `mapstructure:"port"`
		} `mapstructure:"monitor"`

		Accounts struct {
			SystemAccount string `mapstructure:"system_account"`
		} `mapstructure:"accounts"`

		Limits struct {
			MaxConnections int    `mapstructure:"max_connections"`
			MaxPayload     string `mapstructure:"max_payload"`
			MaxPending     string `mapstructure:"max_pending"`
		} `mapstructure:"limits"`
	} `mapstructure:"embedded"`

	TLS struct {
		Enabled            bool   `mapstructure:"enabled"`
		CertFile           string `mapstructure:"cert_file"`
		KeyFile            string `mapstructure:"key_file"`
		CAFile             string `mapstructure:"ca_file"`
		VerifyAndMap       bool   `mapstructure:"verify_and_map"`
		InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`

		ClientAuth struct {
			Enabled  bool   `mapstructure:"enabled"`
			CertFile string `mapstructure:"cert_file"`
			KeyFile  string `mapstructure:"key_file"`
		} `mapstructure:"client_auth"`
	} `mapstructure:"tls"`

	JetStream struct {
		Enabled      bool   `mapstructure:"enabled"`
		Domain       string `mapstructure:"domain"`
		StoreDir     string `mapstructure:"store_dir"`
		MaxMemory    string `mapstructure:"max_memory"`
		MaxStorage   string `mapstructure:"max_storage"`
		SyncInterval string `mapstructure:"sync_interval"`
	} `mapstructure:"jetstream"`

	KVStore struct {
		Enabled bool   `mapstructure:"enabled"`
		Bucket  string `mapstructure:"bucket"`
		TTL     string `mapstructure:"ttl"`
	} `mapstructure:"kv_store"`

	ObjectStore struct {
		Enabled bool   `mapstructure:"enabled"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"object_store"`
}
