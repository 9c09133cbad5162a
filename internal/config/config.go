package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the dicomtags service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Metadata MetadataConfig `yaml:"metadata"`
	Registry RegistryConfig `yaml:"registry"`
	Reindex  ReindexConfig  `yaml:"reindex"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port             int   `yaml:"port"`
	ReadTimeoutSec   int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int   `yaml:"write_timeout_sec"`
	ShutdownSec      int   `yaml:"shutdown_timeout_sec"`
	DefaultPageSize  int   `yaml:"default_page_size"`
	MaxPageSize      int   `yaml:"max_page_size"`
	MaxInstanceBytes int64 `yaml:"max_instance_bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver             string `yaml:"driver"` // postgres, memory (default: postgres)
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
	ReadinessTimeout   int    `yaml:"readiness_timeout_sec"`
	// SchemaRecheckSec is how often the applied schema version is re-read.
	SchemaRecheckSec int `yaml:"schema_recheck_sec"`
}

// RedisConfig holds the lease store settings. Empty Addrs keeps leases in process.
type RedisConfig struct {
	Addrs       []string `yaml:"addrs"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	DB          int      `yaml:"db"`
	KeyPrefix   string   `yaml:"key_prefix"`
	LeaseTTLSec int      `yaml:"lease_ttl_sec"`
}

// MetadataConfig holds the instance metadata blob store settings.
type MetadataConfig struct {
	Driver    string `yaml:"driver"` // minio, memory (default: minio)
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RegistryConfig holds tag registry settings.
type RegistryConfig struct {
	MaxAllowedCount   int `yaml:"max_allowed_count"`
	DeleteBatchSize   int `yaml:"delete_batch_size"`
	SnapshotMaxAgeSec int `yaml:"snapshot_max_age_sec"`
	// DisableQueryAfterErrors disables querying on a tag once its error count reaches it.
	// Nil means the default of 1; 0 never disables.
	DisableQueryAfterErrors *int `yaml:"disable_query_after_errors"`
	LenientValidation       bool `yaml:"lenient_validation"`
}

// ReindexConfig holds backfill settings.
type ReindexConfig struct {
	BatchSize               int     `yaml:"batch_size"`
	MaxParallelCount        int     `yaml:"max_parallel_count"`
	MaxConcurrentOperations int     `yaml:"max_concurrent_operations"`
	MaxRecordRetries        int     `yaml:"max_record_retries"`
	PollIntervalMs          int     `yaml:"poll_interval_ms"`
	MaxAttempts             int     `yaml:"max_attempts"`
	MaxRecordsPerSec        float64 `yaml:"max_records_per_sec"` // 0 = unlimited
}

// Load reads configuration from a YAML file by environment name (local, docker, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} and ${VAR:-default} first.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.DefaultPageSize <= 0 {
		c.HTTP.DefaultPageSize = 100
	}
	if c.HTTP.MaxPageSize <= 0 {
		c.HTTP.MaxPageSize = 200
	}
	if c.HTTP.MaxInstanceBytes <= 0 {
		c.HTTP.MaxInstanceBytes = 8 << 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.SchemaRecheckSec <= 0 {
		c.Database.SchemaRecheckSec = 60
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "dicomtags:"
	}
	if c.Redis.LeaseTTLSec <= 0 {
		c.Redis.LeaseTTLSec = 30
	}

	if c.Metadata.Driver == "" {
		c.Metadata.Driver = "minio"
	}

	if c.Registry.MaxAllowedCount <= 0 {
		c.Registry.MaxAllowedCount = 128
	}
	if c.Registry.DeleteBatchSize <= 0 {
		c.Registry.DeleteBatchSize = 1000
	}
	if c.Registry.SnapshotMaxAgeSec <= 0 {
		c.Registry.SnapshotMaxAgeSec = 10
	}
	if c.Registry.DisableQueryAfterErrors == nil {
		one := 1
		c.Registry.DisableQueryAfterErrors = &one
	}

	if c.Reindex.BatchSize <= 0 {
		c.Reindex.BatchSize = 100
	}
	if c.Reindex.MaxParallelCount <= 0 {
		c.Reindex.MaxParallelCount = 4
	}
	if c.Reindex.MaxConcurrentOperations <= 0 {
		c.Reindex.MaxConcurrentOperations = 1
	}
	if c.Reindex.MaxRecordRetries <= 0 {
		c.Reindex.MaxRecordRetries = 3
	}
	if c.Reindex.PollIntervalMs <= 0 {
		c.Reindex.PollIntervalMs = 5000
	}
	if c.Reindex.MaxAttempts <= 0 {
		c.Reindex.MaxAttempts = 3
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.DefaultPageSize > c.HTTP.MaxPageSize {
		return fmt.Errorf("http.default_page_size (%d) exceeds http.max_page_size (%d)",
			c.HTTP.DefaultPageSize, c.HTTP.MaxPageSize)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be \"postgres\" or \"memory\", got %q", c.Database.Driver)
	}

	switch c.Metadata.Driver {
	case "minio":
		if c.Metadata.Endpoint == "" || c.Metadata.Bucket == "" {
			return fmt.Errorf("metadata.endpoint and metadata.bucket are required for the minio driver")
		}
	case "memory":
	default:
		return fmt.Errorf("metadata.driver must be \"minio\" or \"memory\", got %q", c.Metadata.Driver)
	}

	if *c.Registry.DisableQueryAfterErrors < 0 {
		return fmt.Errorf("registry.disable_query_after_errors must not be negative, got %d",
			*c.Registry.DisableQueryAfterErrors)
	}
	if c.Reindex.MaxRecordsPerSec < 0 {
		return fmt.Errorf("reindex.max_records_per_sec must not be negative, got %v", c.Reindex.MaxRecordsPerSec)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to this source file, for tests run from a package directory.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
