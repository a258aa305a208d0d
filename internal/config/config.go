package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Store     StoreConfig
	Chain     ChainConfig
	Search    SearchConfig
	Retention RetentionConfig
	Verify    VerifyConfig
	Export    ExportConfig
	Report    ReportConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Tracing   TracingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host string
	Port int
	TLS  TLSConfig
}

// TLSConfig contains TLS/SSL configuration
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// StoreConfig contains audit record store configuration
type StoreConfig struct {
	Type            string // "memory", "badger", "postgres"
	DataDir         string
	SyncWrites      bool
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ChainConfig contains hash chain append configuration
type ChainConfig struct {
	MaxAppendRetries int
	Partition        string // "none", "category", "resource_type"
}

// SearchConfig contains search pagination configuration
type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// RetentionConfig contains archival and retention configuration
type RetentionConfig struct {
	FloorDays        int
	ArchiveEnabled   bool
	ArchiveAfterDays int
	ArchiveSchedule  string
}

// VerifyConfig contains scheduled integrity verification configuration
type VerifyConfig struct {
	Enabled  bool
	Schedule string
}

// ExportConfig contains cold storage export configuration
type ExportConfig struct {
	Enabled         bool
	Type            string // "minio", "memory"
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	Prefix          string
}

// ReportConfig contains compliance report generation configuration
type ReportConfig struct {
	QueueSize  int
	MaxRecords int
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	ByIP            bool
	ByOrg           bool
	CleanupInterval time.Duration
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled     bool
	JWTSecret   string
	JWTExpiry   time.Duration
	Issuer      string
	RequireAuth bool
	PublicPaths []string
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnvString("VERAX_HOST", ""),
			Port: getEnvInt("VERAX_PORT", 8484),
			TLS: TLSConfig{
				Enabled:  getEnvBool("VERAX_TLS_ENABLED", false),
				CertFile: getEnvString("VERAX_TLS_CERT_FILE", ""),
				KeyFile:  getEnvString("VERAX_TLS_KEY_FILE", ""),
			},
		},
		Log: LogConfig{
			Level:  getEnvString("VERAX_LOG_LEVEL", "info"),
			Format: getEnvString("VERAX_LOG_FORMAT", "text"),
		},
		Store: StoreConfig{
			Type:            getEnvString("VERAX_STORE_TYPE", "memory"),
			DataDir:         getEnvString("VERAX_DATA_DIR", "./data"),
			SyncWrites:      getEnvBool("VERAX_SYNC_WRITES", true),
			PostgresURL:     getEnvString("VERAX_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("VERAX_POSTGRES_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("VERAX_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("VERAX_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Chain: ChainConfig{
			MaxAppendRetries: getEnvInt("VERAX_MAX_APPEND_RETRIES", 5),
			Partition:        getEnvString("VERAX_CHAIN_PARTITION", "none"),
		},
		Search: SearchConfig{
			DefaultLimit: getEnvInt("VERAX_SEARCH_DEFAULT_LIMIT", 50),
			MaxLimit:     getEnvInt("VERAX_SEARCH_MAX_LIMIT", 1000),
		},
		Retention: RetentionConfig{
			FloorDays:        getEnvInt("VERAX_RETENTION_FLOOR_DAYS", 90),
			ArchiveEnabled:   getEnvBool("VERAX_ARCHIVE_ENABLED", false),
			ArchiveAfterDays: getEnvInt("VERAX_ARCHIVE_AFTER_DAYS", 365),
			ArchiveSchedule:  getEnvString("VERAX_ARCHIVE_SCHEDULE", "0 3 * * *"),
		},
		Verify: VerifyConfig{
			Enabled:  getEnvBool("VERAX_VERIFY_ENABLED", false),
			Schedule: getEnvString("VERAX_VERIFY_SCHEDULE", "30 4 * * *"),
		},
		Export: ExportConfig{
			Enabled:         getEnvBool("VERAX_EXPORT_ENABLED", false),
			Type:            getEnvString("VERAX_EXPORT_TYPE", "minio"),
			Endpoint:        getEnvString("VERAX_EXPORT_ENDPOINT", ""),
			AccessKeyID:     getEnvString("VERAX_EXPORT_ACCESS_KEY", ""),
			SecretAccessKey: getEnvString("VERAX_EXPORT_SECRET_KEY", ""),
			Bucket:          getEnvString("VERAX_EXPORT_BUCKET", "verax-archive"),
			Region:          getEnvString("VERAX_EXPORT_REGION", "us-east-1"),
			UseSSL:          getEnvBool("VERAX_EXPORT_USE_SSL", false),
			Prefix:          getEnvString("VERAX_EXPORT_PREFIX", "audit"),
		},
		Report: ReportConfig{
			QueueSize:  getEnvInt("VERAX_REPORT_QUEUE_SIZE", 16),
			MaxRecords: getEnvInt("VERAX_REPORT_MAX_RECORDS", 100000),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("VERAX_RATE_LIMIT_ENABLED", false),
			RequestsPerSec:  getEnvFloat("VERAX_RATE_LIMIT_REQUESTS_PER_SEC", 100.0),
			Burst:           getEnvInt("VERAX_RATE_LIMIT_BURST", 20),
			ByIP:            getEnvBool("VERAX_RATE_LIMIT_BY_IP", true),
			ByOrg:           getEnvBool("VERAX_RATE_LIMIT_BY_ORG", false),
			CleanupInterval: getEnvDuration("VERAX_RATE_LIMIT_CLEANUP", 5*time.Minute),
		},
		Auth: AuthConfig{
			Enabled:     getEnvBool("VERAX_AUTH_ENABLED", false),
			JWTSecret:   getEnvString("VERAX_JWT_SECRET", ""),
			JWTExpiry:   getEnvDuration("VERAX_JWT_EXPIRY", 15*time.Minute),
			Issuer:      getEnvString("VERAX_JWT_ISSUER", "verax"),
			RequireAuth: getEnvBool("VERAX_REQUIRE_AUTH", false),
			PublicPaths: getEnvStringSlice("VERAX_PUBLIC_PATHS", []string{"/health", "/health/live", "/health/ready", "/metrics"}),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("VERAX_TRACING_ENABLED", false),
			Endpoint:       getEnvString("VERAX_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("VERAX_TRACING_SERVICE_NAME", "verax"),
			ServiceVersion: getEnvString("VERAX_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("VERAX_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("VERAX_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("VERAX_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	// Validate TLS configuration if enabled
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file must be specified when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file must be specified when TLS is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	validStoreTypes := map[string]bool{
		"memory":   true,
		"badger":   true,
		"postgres": true,
	}
	if !validStoreTypes[c.Store.Type] {
		return fmt.Errorf("invalid store type: %s (must be memory, badger, or postgres)", c.Store.Type)
	}

	if c.Store.Type == "badger" && c.Store.DataDir == "" {
		return fmt.Errorf("data directory must be specified for the badger store")
	}

	if c.Store.Type == "postgres" && c.Store.PostgresURL == "" {
		return fmt.Errorf("postgres URL must be specified for the postgres store")
	}

	if c.Chain.MaxAppendRetries <= 0 {
		return fmt.Errorf("max append retries must be positive")
	}

	validPartitions := map[string]bool{
		"none":          true,
		"category":      true,
		"resource_type": true,
	}
	if !validPartitions[c.Chain.Partition] {
		return fmt.Errorf("invalid chain partition: %s (must be none, category, or resource_type)", c.Chain.Partition)
	}

	if c.Search.MaxLimit <= 0 || c.Search.MaxLimit > 1000 {
		return fmt.Errorf("invalid search max limit: %d (must be 1-1000)", c.Search.MaxLimit)
	}

	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("invalid search default limit: %d (must be 1-%d)", c.Search.DefaultLimit, c.Search.MaxLimit)
	}

	if c.Retention.FloorDays < 0 {
		return fmt.Errorf("retention floor days must not be negative")
	}

	// Validate archival configuration if enabled
	if c.Retention.ArchiveEnabled {
		if c.Retention.ArchiveAfterDays < c.Retention.FloorDays {
			return fmt.Errorf("archive after days (%d) must not be below the retention floor (%d)", c.Retention.ArchiveAfterDays, c.Retention.FloorDays)
		}

		if c.Retention.ArchiveSchedule == "" {
			return fmt.Errorf("archive schedule must be specified when archival is enabled")
		}
	}

	if c.Verify.Enabled && c.Verify.Schedule == "" {
		return fmt.Errorf("verify schedule must be specified when scheduled verification is enabled")
	}

	// Validate export configuration if enabled
	if c.Export.Enabled {
		validExportTypes := map[string]bool{
			"minio":  true,
			"memory": true,
		}
		if !validExportTypes[c.Export.Type] {
			return fmt.Errorf("invalid export type: %s (must be minio or memory)", c.Export.Type)
		}

		if c.Export.Type == "minio" {
			if c.Export.Endpoint == "" {
				return fmt.Errorf("export endpoint must be specified for the minio exporter")
			}
			if c.Export.Bucket == "" {
				return fmt.Errorf("export bucket must be specified for the minio exporter")
			}
			if c.Export.AccessKeyID == "" || c.Export.SecretAccessKey == "" {
				return fmt.Errorf("export credentials must be specified for the minio exporter")
			}
		}
	}

	if c.Report.QueueSize <= 0 {
		return fmt.Errorf("report queue size must be positive")
	}

	if c.Report.MaxRecords <= 0 {
		return fmt.Errorf("report max records must be positive")
	}

	// Validate rate limit configuration if enabled
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSec <= 0 {
			return fmt.Errorf("rate limit requests per second must be positive")
		}

		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}

		if !c.RateLimit.ByIP && !c.RateLimit.ByOrg {
			return fmt.Errorf("rate limiting must be enabled for at least IP or organization")
		}
	}

	// Validate auth configuration if enabled
	if c.Auth.Enabled || c.Auth.RequireAuth {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret must be specified when auth is enabled")
		}

		if c.Auth.JWTExpiry <= 0 {
			return fmt.Errorf("JWT expiry must be positive")
		}

		if c.Auth.Issuer == "" {
			return fmt.Errorf("JWT issuer must be specified when auth is enabled")
		}
	}

	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	if c.Server.Host == "" {
		return fmt.Sprintf(":%d", c.Server.Port)
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RetentionFloor returns the retention floor as a duration
func (c *Config) RetentionFloor() time.Duration {
	return time.Duration(c.Retention.FloorDays) * 24 * time.Hour
}

// ArchiveAfter returns the archival age threshold as a duration
func (c *Config) ArchiveAfter() time.Duration {
	return time.Duration(c.Retention.ArchiveAfterDays) * 24 * time.Hour
}

// getEnvString gets a string environment variable with a default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvStringSlice gets a comma-separated string environment variable as a slice with a default value
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := []string{}
		for _, v := range splitAndTrim(value, ",") {
			if v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// splitAndTrim splits a string by delimiter and trims spaces from each element
func splitAndTrim(s, delimiter string) []string {
	parts := []string{}
	for _, part := range splitString(s, delimiter) {
		trimmed := trimSpace(part)
		parts = append(parts, trimmed)
	}
	return parts
}

// splitString splits a string by delimiter
func splitString(s, delimiter string) []string {
	if s == "" {
		return []string{}
	}
	result := []string{}
	current := ""
	for i := 0; i < len(s); i++ {
		if i+len(delimiter) <= len(s) && s[i:i+len(delimiter)] == delimiter {
			result = append(result, current)
			current = ""
			i += len(delimiter) - 1
		} else {
			current += string(s[i])
		}
	}
	result = append(result, current)
	return result
}

// trimSpace removes leading and trailing whitespace
func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
