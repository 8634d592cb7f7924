package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for seny.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// SeedFile optionally points at a classifier YAML applied at startup.
	SeedFile string `yaml:"seed_file" env:"SEED_FILE" env-default:""`

	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	SchemaCache SchemaCacheConfig `yaml:"schema_cache"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"seny"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"seny"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration for the resolved-schema cache.
// An empty Host selects the in-process cache instead.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SchemaCacheConfig tunes the schema registry caches.
type SchemaCacheConfig struct {
	// TTLSeconds is the lifetime of resolved schemas in the external cache.
	// Zero means the default.
	TTLSeconds int `yaml:"ttl_seconds" env:"SCHEMA_CACHE_TTL_SECONDS" env-default:"3600"`
	// ValidatorCapacity bounds the in-process compiled validator cache.
	ValidatorCapacity int `yaml:"validator_capacity" env:"SCHEMA_VALIDATOR_CAPACITY" env-default:"256"`
}

// TTL returns TTLSeconds as a duration.
func (c *SchemaCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// EmbeddingConfig holds the OpenAI-compatible embedding endpoint used by card search.
type EmbeddingConfig struct {
	BaseURL          string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model            string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-large"`
	APIKey           string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	TimeoutSeconds   int    `yaml:"timeout_seconds" env:"EMBEDDING_TIMEOUT_SECONDS" env-default:"30"`
	MaxRetries       int    `yaml:"max_retries" env:"EMBEDDING_MAX_RETRIES" env-default:"3"`
	BreakerThreshold int    `yaml:"breaker_threshold" env:"EMBEDDING_BREAKER_THRESHOLD" env-default:"5"`
	BreakerCooldown  int    `yaml:"breaker_cooldown_seconds" env:"EMBEDDING_BREAKER_COOLDOWN_SECONDS" env-default:"30"`
	BackfillWorkers  int    `yaml:"backfill_workers" env:"EMBEDDING_BACKFILL_WORKERS" env-default:"4"`
}

// IsAvailable returns true if an API key is configured.
func (c *EmbeddingConfig) IsAvailable() bool {
	return c.APIKey != ""
}

// DefaultPath is the configuration file read when no other path is given.
const DefaultPath = "config.yaml"

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultPath, version)
}

// LoadFrom is Load with an explicit configuration file.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.SchemaCache.TTLSeconds <= 0 {
		return fmt.Errorf("schema_cache.ttl_seconds must be positive, got %d", c.SchemaCache.TTLSeconds)
	}
	if c.SchemaCache.ValidatorCapacity <= 0 {
		return fmt.Errorf("schema_cache.validator_capacity must be positive, got %d", c.SchemaCache.ValidatorCapacity)
	}
	if c.Embedding.IsAvailable() && c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model must be set when OPENAI_API_KEY is present")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, ResolveHostForDocker(c.Host), c.Port, c.Database, c.SSLMode,
	)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// ResolveHostForDocker maps localhost to host.docker.internal when the
// process runs inside a container, so local PostgreSQL and Redis stay reachable.
func ResolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
