package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultValues(t *testing.T) {
	// Clear environment variables
	clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check default values
	if cfg.Server.Host != "" {
		t.Errorf("expected empty host, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 8484 {
		t.Errorf("expected port 8484, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Log.Format)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("expected store type 'memory', got %q", cfg.Store.Type)
	}
	if cfg.Chain.MaxAppendRetries != 5 {
		t.Errorf("expected 5 append retries, got %d", cfg.Chain.MaxAppendRetries)
	}
	if cfg.Chain.Partition != "none" {
		t.Errorf("expected chain partition 'none', got %q", cfg.Chain.Partition)
	}
	if cfg.Search.DefaultLimit != 50 {
		t.Errorf("expected search default limit 50, got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Search.MaxLimit != 1000 {
		t.Errorf("expected search max limit 1000, got %d", cfg.Search.MaxLimit)
	}
	if cfg.Retention.FloorDays != 90 {
		t.Errorf("expected retention floor 90 days, got %d", cfg.Retention.FloorDays)
	}
	if cfg.Retention.ArchiveEnabled {
		t.Error("expected archival disabled by default")
	}
	if cfg.Retention.ArchiveAfterDays != 365 {
		t.Errorf("expected archive after 365 days, got %d", cfg.Retention.ArchiveAfterDays)
	}
	if cfg.Verify.Enabled {
		t.Error("expected scheduled verification disabled by default")
	}
	if cfg.Export.Enabled {
		t.Error("expected export disabled by default")
	}
	if cfg.Report.QueueSize != 16 {
		t.Errorf("expected report queue size 16, got %d", cfg.Report.QueueSize)
	}
	if cfg.Report.MaxRecords != 100000 {
		t.Errorf("expected report max records 100000, got %d", cfg.Report.MaxRecords)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// Clear environment variables first
	clearEnvVars()

	// Set environment variables
	os.Setenv("VERAX_HOST", "localhost")
	os.Setenv("VERAX_PORT", "9999")
	os.Setenv("VERAX_LOG_LEVEL", "debug")
	os.Setenv("VERAX_LOG_FORMAT", "json")
	os.Setenv("VERAX_STORE_TYPE", "badger")
	os.Setenv("VERAX_DATA_DIR", "/var/lib/verax")
	os.Setenv("VERAX_MAX_APPEND_RETRIES", "8")
	os.Setenv("VERAX_CHAIN_PARTITION", "category")
	os.Setenv("VERAX_SEARCH_DEFAULT_LIMIT", "25")
	os.Setenv("VERAX_RETENTION_FLOOR_DAYS", "30")
	os.Setenv("VERAX_POSTGRES_CONN_MAX_LIFETIME", "1h")

	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check environment variable values
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Store.Type != "badger" {
		t.Errorf("expected store type 'badger', got %q", cfg.Store.Type)
	}
	if cfg.Store.DataDir != "/var/lib/verax" {
		t.Errorf("expected data dir '/var/lib/verax', got %q", cfg.Store.DataDir)
	}
	if cfg.Chain.MaxAppendRetries != 8 {
		t.Errorf("expected 8 append retries, got %d", cfg.Chain.MaxAppendRetries)
	}
	if cfg.Chain.Partition != "category" {
		t.Errorf("expected chain partition 'category', got %q", cfg.Chain.Partition)
	}
	if cfg.Search.DefaultLimit != 25 {
		t.Errorf("expected search default limit 25, got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Retention.FloorDays != 30 {
		t.Errorf("expected retention floor 30 days, got %d", cfg.Retention.FloorDays)
	}
	if cfg.Store.ConnMaxLifetime != time.Hour {
		t.Errorf("expected conn max lifetime 1h, got %v", cfg.Store.ConnMaxLifetime)
	}
}

// validConfig returns a configuration that passes Validate
func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Type:    "memory",
			DataDir: "./data",
		},
		Chain: ChainConfig{
			MaxAppendRetries: 5,
			Partition:        "none",
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxLimit:     1000,
		},
		Retention: RetentionConfig{
			FloorDays:        90,
			ArchiveAfterDays: 365,
			ArchiveSchedule:  "0 3 * * *",
		},
		Report: ReportConfig{
			QueueSize:  16,
			MaxRecords: 100000,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed for valid config: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	testCases := []int{0, -1, 65536, 100000}

	for _, port := range testCases {
		cfg := validConfig()
		cfg.Server.Port = port

		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for port %d", port)
		}
	}
}

func TestValidate_TLSRequiresCertAndKey(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLS.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for TLS without cert file")
	}

	cfg.Server.TLS.CertFile = "/etc/verax/cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for TLS without key file")
	}

	cfg.Server.TLS.KeyFile = "/etc/verax/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed for complete TLS config: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "invalid"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Format = "invalid"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid log format")
	}
}

func TestValidate_InvalidStoreType(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "cassandra"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid store type")
	}
}

func TestValidate_BadgerRequiresDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "badger"
	cfg.Store.DataDir = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for badger store without data dir")
	}
}

func TestValidate_PostgresRequiresURL(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Type = "postgres"
	cfg.Store.PostgresURL = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for postgres store without URL")
	}
}

func TestValidate_InvalidChainPartition(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Partition = "actor"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid chain partition")
	}
}

func TestValidate_SearchLimits(t *testing.T) {
	testCases := []struct {
		name         string
		defaultLimit int
		maxLimit     int
	}{
		{"zero default", 0, 1000},
		{"default above max", 500, 100},
		{"zero max", 50, 0},
		{"max above cap", 50, 1001},
	}

	for _, tc := range testCases {
		cfg := validConfig()
		cfg.Search.DefaultLimit = tc.defaultLimit
		cfg.Search.MaxLimit = tc.maxLimit

		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for %s", tc.name)
		}
	}
}

func TestValidate_ArchiveBelowRetentionFloor(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.ArchiveEnabled = true
	cfg.Retention.FloorDays = 90
	cfg.Retention.ArchiveAfterDays = 30

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for archive threshold below retention floor")
	}
}

func TestValidate_ExportRequiresEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Export.Enabled = true
	cfg.Export.Type = "minio"
	cfg.Export.Bucket = "verax-archive"
	cfg.Export.AccessKeyID = "verax"
	cfg.Export.SecretAccessKey = "secret"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for minio export without endpoint")
	}

	cfg.Export.Endpoint = "localhost:9000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() failed for complete export config: %v", err)
	}
}

func TestValidate_AuthRequiresSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTExpiry = 15 * time.Minute
	cfg.Auth.Issuer = "verax"

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for auth without JWT secret")
	}
}

func TestAddress(t *testing.T) {
	testCases := []struct {
		host     string
		port     int
		expected string
	}{
		{"", 8080, ":8080"},
		{"localhost", 8080, "localhost:8080"},
		{"127.0.0.1", 9999, "127.0.0.1:9999"},
		{"0.0.0.0", 80, "0.0.0.0:80"},
	}

	for _, tc := range testCases {
		cfg := &Config{
			Server: ServerConfig{
				Host: tc.host,
				Port: tc.port,
			},
		}

		address := cfg.Address()
		if address != tc.expected {
			t.Errorf("Address() = %q, expected %q", address, tc.expected)
		}
	}
}

func TestRetentionDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.FloorDays = 90
	cfg.Retention.ArchiveAfterDays = 365

	if got := cfg.RetentionFloor(); got != 90*24*time.Hour {
		t.Errorf("RetentionFloor() = %v, expected %v", got, 90*24*time.Hour)
	}
	if got := cfg.ArchiveAfter(); got != 365*24*time.Hour {
		t.Errorf("ArchiveAfter() = %v, expected %v", got, 365*24*time.Hour)
	}
}

func TestLoad_InvalidEnvironmentValues(t *testing.T) {
	clearEnvVars()

	// Test invalid port
	os.Setenv("VERAX_PORT", "invalid")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	// Should fall back to default
	if cfg.Server.Port != 8484 {
		t.Errorf("expected default port 8484 for invalid env value, got %d", cfg.Server.Port)
	}

	// Test invalid duration
	os.Setenv("VERAX_JWT_EXPIRY", "invalid")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	// Should fall back to default
	if cfg.Auth.JWTExpiry != 15*time.Minute {
		t.Errorf("expected default JWT expiry 15m for invalid env value, got %v", cfg.Auth.JWTExpiry)
	}

	clearEnvVars()
}

func TestLoad_InvalidConfigValidation(t *testing.T) {
	clearEnvVars()

	// Set invalid port that will fail validation
	os.Setenv("VERAX_PORT", "0")
	defer clearEnvVars()

	_, err := Load()
	if err == nil {
		t.Error("expected Load() to fail validation with invalid port")
	}
}

func TestLoad_PublicPaths(t *testing.T) {
	clearEnvVars()

	os.Setenv("VERAX_PUBLIC_PATHS", "/health, /metrics ,/v1/status")
	defer clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	expected := []string{"/health", "/metrics", "/v1/status"}
	if len(cfg.Auth.PublicPaths) != len(expected) {
		t.Fatalf("expected %d public paths, got %d", len(expected), len(cfg.Auth.PublicPaths))
	}
	for i, path := range expected {
		if cfg.Auth.PublicPaths[i] != path {
			t.Errorf("expected public path %q at %d, got %q", path, i, cfg.Auth.PublicPaths[i])
		}
	}
}

// clearEnvVars clears all VERAX environment variables
func clearEnvVars() {
	os.Unsetenv("VERAX_HOST")
	os.Unsetenv("VERAX_PORT")
	os.Unsetenv("VERAX_TLS_ENABLED")
	os.Unsetenv("VERAX_TLS_CERT_FILE")
	os.Unsetenv("VERAX_TLS_KEY_FILE")
	os.Unsetenv("VERAX_LOG_LEVEL")
	os.Unsetenv("VERAX_LOG_FORMAT")
	os.Unsetenv("VERAX_STORE_TYPE")
	os.Unsetenv("VERAX_DATA_DIR")
	os.Unsetenv("VERAX_SYNC_WRITES")
	os.Unsetenv("VERAX_POSTGRES_URL")
	os.Unsetenv("VERAX_POSTGRES_MAX_OPEN_CONNS")
	os.Unsetenv("VERAX_POSTGRES_MAX_IDLE_CONNS")
	os.Unsetenv("VERAX_POSTGRES_CONN_MAX_LIFETIME")
	os.Unsetenv("VERAX_MAX_APPEND_RETRIES")
	os.Unsetenv("VERAX_CHAIN_PARTITION")
	os.Unsetenv("VERAX_SEARCH_DEFAULT_LIMIT")
	os.Unsetenv("VERAX_SEARCH_MAX_LIMIT")
	os.Unsetenv("VERAX_RETENTION_FLOOR_DAYS")
	os.Unsetenv("VERAX_ARCHIVE_ENABLED")
	os.Unsetenv("VERAX_ARCHIVE_AFTER_DAYS")
	os.Unsetenv("VERAX_ARCHIVE_SCHEDULE")
	os.Unsetenv("VERAX_VERIFY_ENABLED")
	os.Unsetenv("VERAX_VERIFY_SCHEDULE")
	os.Unsetenv("VERAX_EXPORT_ENABLED")
	os.Unsetenv("VERAX_EXPORT_TYPE")
	os.Unsetenv("VERAX_EXPORT_ENDPOINT")
	os.Unsetenv("VERAX_EXPORT_ACCESS_KEY")
	os.Unsetenv("VERAX_EXPORT_SECRET_KEY")
	os.Unsetenv("VERAX_EXPORT_BUCKET")
	os.Unsetenv("VERAX_REPORT_QUEUE_SIZE")
	os.Unsetenv("VERAX_REPORT_MAX_RECORDS")
	os.Unsetenv("VERAX_RATE_LIMIT_ENABLED")
	os.Unsetenv("VERAX_AUTH_ENABLED")
	os.Unsetenv("VERAX_JWT_SECRET")
	os.Unsetenv("VERAX_JWT_EXPIRY")
	os.Unsetenv("VERAX_JWT_ISSUER")
	os.Unsetenv("VERAX_REQUIRE_AUTH")
	os.Unsetenv("VERAX_PUBLIC_PATHS")
}
