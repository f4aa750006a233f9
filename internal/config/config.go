package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Provisioning  ProvisioningConfig
	CloudDB       CloudDBConfig
	Keycloak      KeycloakConfig
	Kafka         KafkaConfig
	Router        RouterConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds the orchestrator's own state database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ProvisioningConfig holds orchestration configuration
type ProvisioningConfig struct {
	// StoreMode selects the state store backend: "postgres" or "memory".
	StoreMode string
	// Environment prefixes generated instance and database names.
	Environment string
	// SharedInstanceName and SharedDatabaseName host non-dedicated tenants.
	SharedInstanceName string
	SharedDatabaseName string
	// TenantDBHost and TenantDBPort appear in generated connection URLs.
	TenantDBHost string
	TenantDBPort string
	Workers      int
	QueueSize    int
}

// CloudDBConfig holds the managed-database provider configuration
type CloudDBConfig struct {
	AccountID         string
	AuthorizedNetwork string
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

// KeycloakConfig holds the identity provider configuration
type KeycloakConfig struct {
	BaseURL string
}

// KafkaConfig holds event streaming configuration
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	EventsTopic  string
	UpdatesTopic string
	GroupID      string
}

// RouterConfig holds connection router configuration
type RouterConfig struct {
	PageSize int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "provisioner"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "provisioner"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Provisioning: ProvisioningConfig{
			StoreMode:          getEnv("PROVISIONING_STORE_MODE", "postgres"),
			Environment:        getEnv("PROVISIONING_ENVIRONMENT", "dev"),
			SharedInstanceName: getEnv("PROVISIONING_SHARED_INSTANCE", "dev-shared-rvc-platform-db"),
			SharedDatabaseName: getEnv("PROVISIONING_SHARED_DATABASE", "dev_shared_rvc_platform_db"),
			TenantDBHost:       getEnv("PROVISIONING_TENANT_DB_HOST", "localhost"),
			TenantDBPort:       getEnv("PROVISIONING_TENANT_DB_PORT", "5432"),
			Workers:            parseInt("PROVISIONING_WORKERS", 4),
			QueueSize:          parseInt("PROVISIONING_QUEUE_SIZE", 64),
		},
		CloudDB: CloudDBConfig{
			AccountID:         getEnv("CLOUDDB_ACCOUNT_ID", ""),
			AuthorizedNetwork: getEnv("CLOUDDB_AUTHORIZED_NETWORK", ""),
			PollInterval:      parseDuration("CLOUDDB_POLL_INTERVAL", "10s"),
			PollTimeout:       parseDuration("CLOUDDB_POLL_TIMEOUT", "30m"),
		},
		Keycloak: KeycloakConfig{
			BaseURL: getEnv("KEYCLOAK_BASE_URL", "http://localhost:8180"),
		},
		Kafka: KafkaConfig{
			Enabled:      parseBool("KAFKA_ENABLED", false),
			Brokers:      parseList("KAFKA_BROKERS", "localhost:9092"),
			EventsTopic:  getEnv("KAFKA_EVENTS_TOPIC", "tenant-events"),
			UpdatesTopic: getEnv("KAFKA_UPDATES_TOPIC", "provisioning-updates"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "rvc-provisioner"),
		},
		Router: RouterConfig{
			PageSize: parseInt("ROUTER_PAGE_SIZE", 100),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "rvc-provisioner"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Provisioning.StoreMode {
	case "postgres", "memory":
	default:
		return fmt.Errorf("PROVISIONING_STORE_MODE must be postgres or memory, got %q", c.Provisioning.StoreMode)
	}
	if c.Provisioning.StoreMode == "postgres" && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Provisioning.Workers < 1 {
		return fmt.Errorf("PROVISIONING_WORKERS must be at least 1")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key string, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
